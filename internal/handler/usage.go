// This file implements the usage endpoints: the monthly summary, limit
// checks, and recording of billable actions.
//
// Routes (session required):
//   - GET  /api/usage                   -> Summary
//   - GET  /api/usage/events            -> RecentEvents
//   - GET  /api/usage/{eventType}/check -> Check
//   - POST /api/usage/{eventType}       -> Record
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxUsageBody = 16384

// UsageHandler serves the usage API.
type UsageHandler struct {
	usage         service.UsageService
	limiter       service.LimiterService
	subscriptions service.SubscriptionReader
	location      *time.Location
	validator     *validator.Validate
	logger        *slog.Logger
}

// NewUsageHandler creates a new UsageHandler. location is where a usage
// month starts and should match the ledger's.
func NewUsageHandler(
	usage service.UsageService,
	limiter service.LimiterService,
	subscriptions service.SubscriptionReader,
	location *time.Location,
	logger *slog.Logger,
) *UsageHandler {
	if location == nil {
		location = time.UTC
	}
	return &UsageHandler{
		usage:         usage,
		limiter:       limiter,
		subscriptions: subscriptions,
		location:      location,
		validator:     newValidator(),
		logger:        logger,
	}
}

// RegisterRoutes registers usage routes. The router must already require a
// session.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/usage", func(r chi.Router) {
		r.Get("/", h.Summary)
		r.Get("/events", h.RecentEvents)
		r.Get("/{eventType}/check", h.Check)
		r.Post("/{eventType}", h.Record)
	})
}

// =============================================================================
// Request / Response Types
// =============================================================================

// RecordUsageRequest is the optional body of POST /api/usage/{eventType}.
type RecordUsageRequest struct {
	Metadata json.RawMessage `json:"metadata" validate:"omitempty,max=8192"`
}

// RecordUsageResponse echoes the stored event and, for metered types, the
// decision that admitted it.
type RecordUsageResponse struct {
	Event    *domain.UsageEvent `json:"event"`
	Decision *service.Decision  `json:"decision,omitempty"`
}

// QuotaUsage is one event type's position against its monthly quota.
type QuotaUsage struct {
	EventType domain.EventType `json:"event_type"`
	Used      int64            `json:"used"`
	Limit     int64            `json:"limit"`
	Remaining int64            `json:"remaining"`
	Unlimited bool             `json:"unlimited"`
}

// UsageSummaryResponse is the body of GET /api/usage.
type UsageSummaryResponse struct {
	Tier        domain.SubscriptionTier   `json:"tier"`
	Status      domain.SubscriptionStatus `json:"status"`
	Active      bool                      `json:"active"`
	PeriodStart time.Time                 `json:"period_start"`
	Summary     domain.UsageSummary       `json:"summary"`
	Quotas      []QuotaUsage              `json:"quotas"`
}

// =============================================================================
// Handlers
// =============================================================================

// Summary returns current-month counts with the quota for each metered type.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	sub, err := lookupSubscription(r, h.subscriptions, session)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	summary, err := h.usage.CurrentMonthUsage(r.Context(), session.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := UsageSummaryResponse{
		Status:      domain.SubscriptionStatusInactive,
		PeriodStart: domain.MonthStart(time.Now(), h.location),
		Summary:     summary,
	}
	if sub != nil {
		resp.Tier = sub.Tier
		resp.Status = sub.Status
		resp.Active = sub.IsActive()
	}

	quota := domain.GetTierQuota(resp.Tier)
	for _, et := range domain.MeteredEventTypes() {
		limit, _ := quota.Limit(et)
		used := summary.Count(et)
		resp.Quotas = append(resp.Quotas, QuotaUsage{
			EventType: et,
			Used:      used,
			Limit:     limit,
			Remaining: domain.Remaining(limit, used),
			Unlimited: limit == domain.Unlimited,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RecentEvents lists this month's events, newest first. ?limit= caps the
// page at 100.
func (h *UsageHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ValidationErrorResponse(w, r, h.logger,
				domain.NewValidationError("usage.recent_events", "limit", "Limit must be a positive number"))
			return
		}
		limit = n
	}

	events, err := h.usage.RecentEvents(r.Context(), session.UserID, limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.UsageEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Check returns the limiter decision for one event type without recording.
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	eventType, ok := h.eventTypeParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.limiter.Decide(r.Context(), session.UserID, eventType))
}

// Record admits and records one billable action. Metered types pass the
// limiter first; api_call is recorded without a check.
func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	const op = "usage.record"

	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	eventType, ok := h.eventTypeParam(w, r)
	if !ok {
		return
	}

	var req RecordUsageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUsageBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		ValidationErrorResponse(w, r, h.logger, validationError(op, err))
		return
	}

	var decision *service.Decision
	if eventType.IsMetered() {
		d := h.limiter.Decide(r.Context(), session.UserID, eventType)
		if !d.Allowed {
			DeniedResponse(w, r, h.logger, d.Err(op), d)
			return
		}
		decision = &d
	}

	event, err := h.usage.Record(r.Context(), domain.UsageEvent{
		UserID:    session.UserID,
		EventType: eventType,
		Metadata:  req.Metadata,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordUsageResponse{
		Event:    event,
		Decision: decision,
	})
}

func (h *UsageHandler) eventTypeParam(w http.ResponseWriter, r *http.Request) (domain.EventType, bool) {
	eventType, ok := domain.ParseEventType(chi.URLParam(r, "eventType"))
	if !ok {
		ValidationErrorResponse(w, r, h.logger,
			domain.NewValidationError("usage.event_type", "event_type", "Event type must be one of search, alert, export, api_call"))
		return "", false
	}
	return eventType, true
}

// validationError converts validator failures into field errors keyed by
// the JSON field name.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Invalid(op, "Invalid request")
	}

	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "max":
			ve.Fields[fe.Field()] = "Value is too long"
		default:
			ve.Fields[fe.Field()] = "Value is invalid"
		}
	}
	return ve
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
