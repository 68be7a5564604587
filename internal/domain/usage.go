package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a billable action recorded in the usage ledger.
type EventType string

const (
	EventTypeSearch  EventType = "search"
	EventTypeAlert   EventType = "alert"
	EventTypeExport  EventType = "export"
	EventTypeAPICall EventType = "api_call"
)

// ParseEventType converts a wire value to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeSearch, EventTypeAlert, EventTypeExport, EventTypeAPICall:
		return EventType(s), true
	}
	return "", false
}

// IsMetered reports whether the event type has a monthly quota.
func (t EventType) IsMetered() bool {
	return t == EventTypeSearch || t == EventTypeAlert || t == EventTypeExport
}

// MeteredEventTypes lists the event types covered by quotas.
func MeteredEventTypes() []EventType {
	return []EventType{EventTypeSearch, EventTypeAlert, EventTypeExport}
}

// UsageEvent is one immutable entry of the usage ledger.
type UsageEvent struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	EventType EventType       `json:"event_type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UsageSummary holds current-month counts for the metered event types.
// api_call events are stored but not summarised.
type UsageSummary struct {
	Searches int64 `json:"searches"`
	Alerts   int64 `json:"alerts"`
	Exports  int64 `json:"exports"`
}

// Count returns the summary count for a metered event type.
func (s UsageSummary) Count(eventType EventType) int64 {
	switch eventType {
	case EventTypeSearch:
		return s.Searches
	case EventTypeAlert:
		return s.Alerts
	case EventTypeExport:
		return s.Exports
	default:
		return 0
	}
}

// SummaryFromCounts folds per-type counts into a UsageSummary, dropping
// unmetered types.
func SummaryFromCounts(counts map[EventType]int64) UsageSummary {
	return UsageSummary{
		Searches: counts[EventTypeSearch],
		Alerts:   counts[EventTypeAlert],
		Exports:  counts[EventTypeExport],
	}
}

// MonthStart returns midnight on the first day of the month containing t,
// in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}
