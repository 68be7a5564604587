// Package service contains the business logic layer.
//
// This file implements the usage ledger: an append-only log of billable
// actions per tenant with a current-month aggregation.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/DukeRupert/sturgeon/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/DukeRupert/sturgeon/internal/service"

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService records billable actions and reports monthly usage.
type UsageService interface {
	// Record appends one event. CreatedAt defaults to now and ID to a new
	// UUID. The write is not cancelled when ctx is.
	Record(ctx context.Context, event domain.UsageEvent) (*domain.UsageEvent, error)

	// CurrentMonthUsage counts the tenant's metered events since the start
	// of the current calendar month. Store failures return an error that
	// matches domain.ErrUsageUnavailable.
	CurrentMonthUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSummary, error)

	// RecentEvents lists this month's events, newest first.
	RecentEvents(ctx context.Context, userID uuid.UUID, limit int) ([]domain.UsageEvent, error)
}

// UsageConfig tunes the ledger's clock and timeouts.
type UsageConfig struct {
	// Location defines where a calendar month starts. Defaults to UTC.
	Location *time.Location

	// LookupTimeout bounds aggregation reads.
	LookupTimeout time.Duration

	// WriteTimeout bounds inserts, which run detached from the caller.
	WriteTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c UsageConfig) withDefaults() UsageConfig {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	queries *repository.Queries
	cfg     UsageConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewUsageService creates a new UsageService.
func NewUsageService(queries *repository.Queries, cfg UsageConfig, logger *slog.Logger) UsageService {
	return &usageService{
		queries: queries,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Record appends one event to the ledger.
func (s *usageService) Record(ctx context.Context, event domain.UsageEvent) (*domain.UsageEvent, error) {
	const op = "usage.record"

	if event.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "user id is required")
	}
	if _, ok := domain.ParseEventType(string(event.EventType)); !ok {
		return nil, domain.Invalid(op, "unknown event type")
	}
	if len(event.Metadata) > 0 && !isJSONObject(event.Metadata) {
		return nil, domain.Invalid(op, "metadata must be a JSON object")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.cfg.Now()
	}

	// A disconnecting client must not abort a side-effecting write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()

	writeCtx, span := s.tracer.Start(writeCtx, op, trace.WithAttributes(
		attribute.String("event_type", string(event.EventType)),
	))
	defer span.End()

	err := s.queries.InsertUsageEvent(writeCtx, repository.InsertUsageEventParams{
		ID:        event.ID,
		UserID:    event.UserID,
		EventType: string(event.EventType),
		Metadata:  pqtype.NullRawMessage{RawMessage: event.Metadata, Valid: len(event.Metadata) > 0},
		CreatedAt: event.CreatedAt,
	})
	metrics.UsageRecorded(string(event.EventType), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		s.logger.Error("failed to record usage event",
			"error", err,
			"user_id", event.UserID,
			"event_type", event.EventType,
		)
		return nil, domain.Internal(err, op, "failed to record usage event")
	}

	s.logger.Debug("usage event recorded",
		"user_id", event.UserID,
		"event_type", event.EventType,
		"event_id", event.ID,
	)

	return &event, nil
}

// CurrentMonthUsage counts this month's metered events for the tenant.
func (s *usageService) CurrentMonthUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSummary, error) {
	const op = "usage.current_month"

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()

	since := domain.MonthStart(s.cfg.Now(), s.cfg.Location)

	rows, err := s.queries.CountUsageEventsSince(ctx, userID, since)
	metrics.UsageLookup(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "usage unavailable")
		s.logger.Warn("usage lookup failed",
			"error", err,
			"user_id", userID,
			"since", since,
		)
		return domain.UsageSummary{}, domain.UsageUnavailable(err, op)
	}

	counts := make(map[domain.EventType]int64, len(rows))
	for _, row := range rows {
		counts[domain.EventType(row.EventType)] += row.Count
	}

	return domain.SummaryFromCounts(counts), nil
}

// RecentEvents lists this month's events, newest first.
func (s *usageService) RecentEvents(ctx context.Context, userID uuid.UUID, limit int) ([]domain.UsageEvent, error) {
	const op = "usage.recent_events"

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	since := domain.MonthStart(s.cfg.Now(), s.cfg.Location)

	rows, err := s.queries.ListUsageEventsSince(ctx, userID, since, int32(limit))
	if err != nil {
		return nil, domain.UsageUnavailable(err, op)
	}

	events := make([]domain.UsageEvent, 0, len(rows))
	for _, row := range rows {
		var meta json.RawMessage
		if row.Metadata.Valid {
			meta = row.Metadata.RawMessage
		}
		events = append(events, domain.UsageEvent{
			ID:        row.ID,
			UserID:    row.UserID,
			EventType: domain.EventType(row.EventType),
			Metadata:  meta,
			CreatedAt: row.CreatedAt,
		})
	}

	return events, nil
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
