package metrics

// UsageRecorded counts a ledger write.
func UsageRecorded(eventType string, err error) {
	UsageEventsTotal.WithLabelValues(eventType, result(err)).Inc()
}

// UsageLookup counts a current-month aggregation.
func UsageLookup(err error) {
	UsageLookupsTotal.WithLabelValues(result(err)).Inc()
}

// QuotaDecision counts a limiter decision. outcome is "allowed" or the
// deny reason.
func QuotaDecision(eventType, outcome string) {
	QuotaDecisionsTotal.WithLabelValues(eventType, outcome).Inc()
}

// SessionResolved counts a resolver outcome: "authenticated", "anonymous",
// "not_configured" or "error".
func SessionResolved(outcome string) {
	SessionResolutionsTotal.WithLabelValues(outcome).Inc()
}

// GuardOutcome counts a route guard decision.
func GuardOutcome(class, outcome string) {
	RouteGuardOutcomesTotal.WithLabelValues(class, outcome).Inc()
}

// SubscriptionCache counts a cache "hit", "miss", "error" or "stale" fill.
func SubscriptionCache(outcome string) {
	SubscriptionCacheTotal.WithLabelValues(outcome).Inc()
}

// BillingWebhook counts a processed Stripe event.
func BillingWebhook(eventType string, err error) {
	BillingWebhooksTotal.WithLabelValues(eventType, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
