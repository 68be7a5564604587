// Package service contains the business logic layer.
//
// This file implements the usage limiter, the admission check placed in
// front of every billable action.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DenyReason explains why the limiter refused an action.
type DenyReason string

const (
	ReasonNone                    DenyReason = ""
	ReasonUnmeteredEvent          DenyReason = "unmetered_event"
	ReasonNoSubscription          DenyReason = "no_subscription"
	ReasonSubscriptionUnavailable DenyReason = "subscription_unavailable"
	ReasonInactiveSubscription    DenyReason = "inactive_subscription"
	ReasonUsageUnavailable        DenyReason = "usage_unavailable"
	ReasonQuotaExceeded           DenyReason = "quota_exceeded"
)

// Decision is the outcome of one limiter check.
//
// Limits are soft: the check reads usage and compares, it does not reserve.
// Two concurrent requests at limit-1 may both be admitted.
type Decision struct {
	Allowed   bool                    `json:"allowed"`
	Reason    DenyReason              `json:"reason,omitempty"`
	EventType domain.EventType        `json:"event_type"`
	Tier      domain.SubscriptionTier `json:"tier,omitempty"`
	Used      int64                   `json:"used"`
	Limit     int64                   `json:"limit"`
	Remaining int64                   `json:"remaining"`
	Unlimited bool                    `json:"unlimited"`
	SoftLimit bool                    `json:"soft_limit"`
}

// Err converts a denial into a domain error for the HTTP layer.
// It returns nil for admitted decisions.
func (d Decision) Err(op string) error {
	switch d.Reason {
	case ReasonNone:
		if d.Allowed {
			return nil
		}
		return domain.Errorf(domain.EPAYMENT, op, "Action not permitted")
	case ReasonUnmeteredEvent:
		return domain.Invalid(op, fmt.Sprintf("%q events are not metered", d.EventType))
	case ReasonNoSubscription, ReasonInactiveSubscription:
		return domain.Errorf(domain.EPAYMENT, op, "An active subscription is required. Choose a plan to continue.")
	case ReasonSubscriptionUnavailable, ReasonUsageUnavailable:
		return domain.UsageUnavailable(errors.New(string(d.Reason)), op)
	case ReasonQuotaExceeded:
		return domain.QuotaExceeded(op, d.EventType, d.Used, d.Limit)
	default:
		return domain.Errorf(domain.EPAYMENT, op, "Action not permitted")
	}
}

// SubscriptionReader is the part of SubscriptionService the limiter needs.
type SubscriptionReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
}

// UsageReader is the part of UsageService the limiter needs.
type UsageReader interface {
	CurrentMonthUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSummary, error)
}

// =============================================================================
// Interface Definition
// =============================================================================

// LimiterService decides whether a tenant may perform a metered action.
type LimiterService interface {
	// CheckLimit reports whether the action is admitted.
	CheckLimit(ctx context.Context, userID uuid.UUID, eventType domain.EventType) bool

	// Decide returns the full decision including counts and deny reason.
	Decide(ctx context.Context, userID uuid.UUID, eventType domain.EventType) Decision
}

// =============================================================================
// Implementation
// =============================================================================

type limiterService struct {
	subscriptions SubscriptionReader
	usage         UsageReader
	timeout       time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewLimiterService creates a new LimiterService. timeout bounds the
// subscription lookup; usage lookups carry their own bound.
func NewLimiterService(subscriptions SubscriptionReader, usage UsageReader, timeout time.Duration, logger *slog.Logger) LimiterService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &limiterService{
		subscriptions: subscriptions,
		usage:         usage,
		timeout:       timeout,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
}

// CheckLimit reports whether the action is admitted.
func (s *limiterService) CheckLimit(ctx context.Context, userID uuid.UUID, eventType domain.EventType) bool {
	return s.Decide(ctx, userID, eventType).Allowed
}

// Decide evaluates the subscription, quota and current usage in order.
func (s *limiterService) Decide(ctx context.Context, userID uuid.UUID, eventType domain.EventType) Decision {
	const op = "limiter.decide"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("event_type", string(eventType)),
	))
	defer span.End()

	d := s.decide(ctx, userID, eventType)

	outcome := "allowed"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("tier", string(d.Tier)))
	metrics.QuotaDecision(string(eventType), outcome)

	return d
}

func (s *limiterService) decide(ctx context.Context, userID uuid.UUID, eventType domain.EventType) Decision {
	d := Decision{EventType: eventType, SoftLimit: true}

	if !eventType.IsMetered() {
		s.logger.Warn("limiter called for unmetered event type",
			"user_id", userID,
			"event_type", eventType,
		)
		return failClosed(d, ReasonUnmeteredEvent)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	sub, err := s.subscriptions.Get(lookupCtx, userID)
	cancel()
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return failClosed(d, ReasonNoSubscription)
		}
		s.logger.Error("subscription lookup failed, denying",
			"error", err,
			"user_id", userID,
			"event_type", eventType,
		)
		return failClosed(d, ReasonSubscriptionUnavailable)
	}
	if sub == nil {
		return failClosed(d, ReasonNoSubscription)
	}

	d.Tier = sub.Tier
	if !sub.IsActive() {
		return failClosed(d, ReasonInactiveSubscription)
	}

	limit, _ := domain.GetTierQuota(sub.Tier).Limit(eventType)
	d.Limit = limit

	// Usage is read even for unlimited tiers so that an unreachable store
	// denies every tier alike.
	usage, err := s.usage.CurrentMonthUsage(ctx, userID)
	if err != nil {
		s.logger.Error("usage unavailable, denying",
			"error", err,
			"user_id", userID,
			"event_type", eventType,
		)
		return failClosed(d, ReasonUsageUnavailable)
	}

	d.Used = usage.Count(eventType)
	d.Remaining = domain.Remaining(limit, d.Used)

	if limit == domain.Unlimited {
		d.Allowed = true
		d.Unlimited = true
		return d
	}

	if d.Used < limit {
		d.Allowed = true
		return d
	}

	s.logger.Info("usage quota exceeded",
		"user_id", userID,
		"tier", sub.Tier,
		"event_type", eventType,
		"used", d.Used,
		"limit", limit,
	)
	return failClosed(d, ReasonQuotaExceeded)
}

// failClosed is the limiter's error policy: any lookup that cannot be
// answered, and any missing entitlement, denies the action.
func failClosed(d Decision, reason DenyReason) Decision {
	d.Allowed = false
	d.Reason = reason
	return d
}
