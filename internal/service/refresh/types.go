package refresh

import (
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
)

// Outcome is how a chat request to a provider ended.
type Outcome string

// Request outcomes.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Reason describes why a refresh was requested.
type Reason string

// Refresh reasons. Any reason other than manual is throttled.
const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

// State is a read-only copy of one provider's refresh bookkeeping.
type State struct {
	Provider         string            `json:"provider"`
	IsRefreshing     bool              `json:"isRefreshing"`
	Snapshot         *balance.Snapshot `json:"snapshot,omitempty"`
	LastError        string            `json:"lastError,omitempty"`
	LastAttemptAt    time.Time         `json:"lastAttemptAt,omitzero"`
	LastRefreshAt    time.Time         `json:"lastRefreshAt,omitzero"`
	PendingTrailing  bool              `json:"pendingTrailing"`
	LastRequestEndAt time.Time         `json:"lastRequestEndAt,omitzero"`
	Low              bool              `json:"low"`
}

// providerState is the mutable bookkeeping behind State. Guarded by
// Coordinator.mu.
type providerState struct {
	isRefreshing     bool
	snapshot         *balance.Snapshot
	lastError        string
	lastAttemptAt    time.Time
	lastRefreshAt    time.Time
	pendingTrailing  bool
	lastRequestEndAt time.Time
	low              bool
}

func (s *providerState) view(name string) State {
	return State{
		Provider:         name,
		IsRefreshing:     s.isRefreshing,
		Snapshot:         s.snapshot.Clone(),
		LastError:        s.lastError,
		LastAttemptAt:    s.lastAttemptAt,
		LastRefreshAt:    s.lastRefreshAt,
		PendingTrailing:  s.pendingTrailing,
		LastRequestEndAt: s.lastRequestEndAt,
		Low:              s.low,
	}
}

// lastActivity is the latest of the attempt, refresh and snapshot times.
func (s *providerState) lastActivity() time.Time {
	last := s.lastAttemptAt
	if s.lastRefreshAt.After(last) {
		last = s.lastRefreshAt
	}
	if s.snapshot != nil && s.snapshot.UpdatedAt.After(last) {
		last = s.snapshot.UpdatedAt
	}
	return last
}

// flight is one outstanding adapter call. done closes when it completes.
type flight struct {
	done chan struct{}
}

type trailingTimer struct {
	timer Timer
	seq   uint64
}
