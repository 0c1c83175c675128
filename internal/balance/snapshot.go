package balance

import (
	"time"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Snapshot is an immutable point-in-time balance reading.
type Snapshot struct {
	Items     []Metric  `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Thresholds define when a snapshot counts as low. Zero disables a check.
type Thresholds struct {
	AmountBelow  float64
	TokensBelow  float64
	PercentBelow float64
}

// Validate checks every metric and that at most one is flagged primary.
func (s *Snapshot) Validate() error {
	primaries := 0
	for _, m := range s.Items {
		if err := m.Validate(); err != nil {
			return err
		}
		if m.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return bwerr.WithDetails(bwerr.ErrInvalidSnapshot, map[string]string{"reason": "more than one primary metric"})
	}
	return nil
}

// Primary returns the flagged primary metric, or the first item.
func (s *Snapshot) Primary() (Metric, bool) {
	if s == nil || len(s.Items) == 0 {
		return Metric{}, false
	}
	for _, m := range s.Items {
		if m.Primary {
			return m, true
		}
	}
	return s.Items[0], true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{UpdatedAt: s.UpdatedAt, Items: make([]Metric, len(s.Items))}
	for i, m := range s.Items {
		out.Items[i] = m.clone()
	}
	return out
}

func (m Metric) clone() Metric {
	if m.Amount != nil {
		v := *m.Amount
		m.Amount = &v
	}
	if m.Tokens != nil {
		v := TokenValue{}
		if m.Tokens.Used != nil {
			v.Used = Float(*m.Tokens.Used)
		}
		if m.Tokens.Limit != nil {
			v.Limit = Float(*m.Tokens.Limit)
		}
		if m.Tokens.Remaining != nil {
			v.Remaining = Float(*m.Tokens.Remaining)
		}
		m.Tokens = &v
	}
	if m.Percent != nil {
		v := *m.Percent
		m.Percent = &v
	}
	if m.Time != nil {
		v := *m.Time
		m.Time = &v
	}
	if m.Status != nil {
		v := *m.Status
		m.Status = &v
	}
	return m
}

// IsLow reports whether any remaining-side reading is under its threshold,
// or the vendor reports the account as low or exhausted.
//
//nolint:gocognit // One branch per metric kind
func (s *Snapshot) IsLow(t Thresholds) bool {
	if s == nil {
		return false
	}
	for _, m := range s.Items {
		switch m.Kind {
		case KindAmount:
			if t.AmountBelow > 0 && m.Amount != nil && m.Amount.Direction == Remaining && m.Amount.Value < t.AmountBelow {
				return true
			}
		case KindTokens:
			if t.TokensBelow > 0 && m.Tokens != nil {
				if rem, ok := m.Tokens.RemainingTokens(); ok && rem < t.TokensBelow {
					return true
				}
			}
		case KindPercent:
			if t.PercentBelow > 0 && m.Percent != nil {
				remaining := m.Percent.Value
				if m.Percent.Basis == Used {
					remaining = 100 - m.Percent.Value
				}
				if remaining < t.PercentBelow {
					return true
				}
			}
		case KindStatus:
			if m.Status != nil && (m.Status.Value == StatusLow || m.Status.Value == StatusExhausted) {
				return true
			}
		case KindTime:
		}
	}
	return false
}
