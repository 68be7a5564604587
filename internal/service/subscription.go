// Package service contains the business logic layer.
//
// This file implements subscription lookups with a redis read-through cache
// and the writes applied by billing webhooks.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/DukeRupert/sturgeon/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultSubscriptionCacheTTL is used when no TTL is configured.
const DefaultSubscriptionCacheTTL = 5 * time.Minute

// cacheGenerationTTL outlives any in-flight read of the database.
const cacheGenerationTTL = 24 * time.Hour

// errStaleRead means a write landed between a read and its cache fill.
var errStaleRead = errors.New("subscription changed during read")

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService reads and updates tenant subscription records.
type SubscriptionService interface {
	// Get returns the tenant's subscription, or an ENOTFOUND error.
	Get(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)

	// GetByStripeCustomerID resolves a Stripe customer to its subscription.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error)

	// Apply upserts the non-empty fields of update and drops the cached copy.
	Apply(ctx context.Context, update domain.SubscriptionUpdate) error
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	queries *repository.Queries
	cache   *redis.Client // nil disables caching
	ttl     time.Duration
	logger  *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService. cache may be nil.
func NewSubscriptionService(queries *repository.Queries, cache *redis.Client, ttl time.Duration, logger *slog.Logger) SubscriptionService {
	if ttl <= 0 {
		ttl = DefaultSubscriptionCacheTTL
	}
	return &subscriptionService{
		queries: queries,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
	}
}

func subscriptionCacheKey(userID uuid.UUID) string {
	return "sub:" + userID.String()
}

// subscriptionGenerationKey counts writes per tenant. A cache fill only
// succeeds when no write happened since the fill's database read began.
func subscriptionGenerationKey(userID uuid.UUID) string {
	return "subgen:" + userID.String()
}

// Get returns the tenant's subscription.
func (s *subscriptionService) Get(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription.get"

	if sub, ok := s.fromCache(ctx, userID); ok {
		return sub, nil
	}
	gen, genOK := s.cacheGeneration(ctx, userID)

	row, err := s.queries.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription", userID.String())
		}
		return nil, domain.Internal(err, op, "failed to load subscription")
	}

	sub := toDomainSubscription(row)
	if genOK {
		s.toCache(ctx, sub, gen)
	}

	return sub, nil
}

// GetByStripeCustomerID resolves a Stripe customer to its subscription.
func (s *subscriptionService) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	const op = "subscription.get_by_customer"

	if customerID == "" {
		return nil, domain.Invalid(op, "customer id is required")
	}

	row, err := s.queries.GetSubscriptionByStripeCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription for customer", customerID)
		}
		return nil, domain.Internal(err, op, "failed to load subscription")
	}

	return toDomainSubscription(row), nil
}

// Apply upserts a subscription change and invalidates the cache entry.
func (s *subscriptionService) Apply(ctx context.Context, update domain.SubscriptionUpdate) error {
	const op = "subscription.apply"

	if update.UserID == uuid.Nil {
		return domain.Invalid(op, "user id is required")
	}

	err := s.queries.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
		UserID:               update.UserID,
		Tier:                 string(update.Tier),
		Status:               string(update.Status),
		StripeCustomerID:     update.StripeCustomerID,
		StripeSubscriptionID: update.StripeSubscriptionID,
		CurrentPeriodEnd:     domain.ToNullTime(update.CurrentPeriodEnd),
	})
	if err != nil {
		return domain.Internal(err, op, "failed to save subscription")
	}

	if s.cache != nil {
		genKey := subscriptionGenerationKey(update.UserID)
		pipe := s.cache.TxPipeline()
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, cacheGenerationTTL)
		pipe.Del(ctx, subscriptionCacheKey(update.UserID))
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("failed to invalidate subscription cache",
				"error", err,
				"user_id", update.UserID,
			)
		}
	}

	s.logger.Info("subscription updated",
		"user_id", update.UserID,
		"tier", update.Tier,
		"status", update.Status,
	)

	return nil
}

// fromCache returns a cached subscription. Any redis failure is a miss.
func (s *subscriptionService) fromCache(ctx context.Context, userID uuid.UUID) (*domain.Subscription, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, err := s.cache.Get(ctx, subscriptionCacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.SubscriptionCache("miss")
		} else {
			metrics.SubscriptionCache("error")
			s.logger.Warn("subscription cache read failed", "error", err, "user_id", userID)
		}
		return nil, false
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		metrics.SubscriptionCache("error")
		s.logger.Warn("subscription cache entry corrupt", "error", err, "user_id", userID)
		return nil, false
	}

	metrics.SubscriptionCache("hit")
	return &sub, true
}

// cacheGeneration reads the tenant's write counter. ok is false when redis
// cannot be read, in which case the result must not be cached.
func (s *subscriptionService) cacheGeneration(ctx context.Context, userID uuid.UUID) (gen int64, ok bool) {
	if s.cache == nil {
		return 0, false
	}

	gen, err := s.cache.Get(ctx, subscriptionGenerationKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false
	}
	return gen, true
}

// toCache stores sub unless a write bumped the generation after gen was read.
func (s *subscriptionService) toCache(ctx context.Context, sub *domain.Subscription, gen int64) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return
	}

	genKey := subscriptionGenerationKey(sub.UserID)
	err = s.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, subscriptionCacheKey(sub.UserID), data, s.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleRead), errors.Is(err, redis.TxFailedErr):
		metrics.SubscriptionCache("stale")
		s.logger.Debug("skipped caching stale subscription", "user_id", sub.UserID)
	default:
		s.logger.Warn("subscription cache write failed", "error", err, "user_id", sub.UserID)
	}
}

func toDomainSubscription(row repository.Subscription) *domain.Subscription {
	return &domain.Subscription{
		UserID:               row.UserID,
		Tier:                 domain.SubscriptionTier(row.Tier),
		Status:               domain.SubscriptionStatus(row.Status),
		StripeCustomerID:     domain.NullStringValue(row.StripeCustomerID),
		StripeSubscriptionID: domain.NullStringValue(row.StripeSubscriptionID),
		CurrentPeriodEnd:     domain.NullTimeValue(row.CurrentPeriodEnd),
		UpdatedAt:            row.UpdatedAt,
	}
}
