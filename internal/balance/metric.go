// Package balance defines the point-in-time balance model produced by
// vendor adapters and the contract those adapters implement.
package balance

import (
	"fmt"
	"time"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Kind identifies which payload a Metric carries.
type Kind string

// Metric kinds.
const (
	KindAmount  Kind = "amount"
	KindTokens  Kind = "tokens"
	KindPercent Kind = "percent"
	KindTime    Kind = "time"
	KindStatus  Kind = "status"
)

// Direction says what an amount represents.
type Direction string

// Amount directions.
const (
	Remaining Direction = "remaining"
	Used      Direction = "used"
	Limit     Direction = "limit"
)

// Period is the accounting window of a metric.
type Period string

// Metric periods.
const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodTotal Period = "total"
)

// TimeRole says what a time metric marks.
type TimeRole string

// Time roles.
const (
	ResetsAt  TimeRole = "reset"
	ExpiresAt TimeRole = "expires"
)

// StatusValue is a coarse account state reported by a vendor.
type StatusValue string

// Status values.
const (
	StatusOK        StatusValue = "ok"
	StatusLow       StatusValue = "low"
	StatusExhausted StatusValue = "exhausted"
	StatusUnlimited StatusValue = "unlimited"
	StatusError     StatusValue = "error"
)

// AmountValue is a monetary amount.
type AmountValue struct {
	Value     float64   `json:"value"`
	Currency  string    `json:"currency,omitempty"`
	Direction Direction `json:"direction"`
}

// TokenValue is a token budget. Remaining is derived when absent.
type TokenValue struct {
	Used      *float64 `json:"used,omitempty"`
	Limit     *float64 `json:"limit,omitempty"`
	Remaining *float64 `json:"remaining,omitempty"`
}

// PercentValue is a 0..100 percentage.
type PercentValue struct {
	Value float64   `json:"value"`
	Basis Direction `json:"basis"`
}

// TimeValue is a point in time such as a quota reset.
type TimeValue struct {
	At   time.Time `json:"at"`
	Role TimeRole  `json:"role"`
}

// StatusPayload is a coarse vendor status.
type StatusPayload struct {
	Value   StatusValue `json:"value"`
	Message string      `json:"message,omitempty"`
}

// Metric is a single balance reading. Exactly the payload matching Kind is set.
type Metric struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Label   string `json:"label"`
	Period  Period `json:"period,omitempty"`
	Primary bool   `json:"primary,omitempty"`

	Amount  *AmountValue   `json:"amount,omitempty"`
	Tokens  *TokenValue    `json:"tokens,omitempty"`
	Percent *PercentValue  `json:"percent,omitempty"`
	Time    *TimeValue     `json:"time,omitempty"`
	Status  *StatusPayload `json:"status,omitempty"`
}

// NewAmount builds an amount metric.
func NewAmount(id, label string, value float64, currency string, dir Direction) Metric {
	return Metric{Kind: KindAmount, ID: id, Label: label, Amount: &AmountValue{Value: value, Currency: currency, Direction: dir}}
}

// NewTokens builds a token metric. Nil arguments are left unset.
func NewTokens(id, label string, used, limit, remaining *float64) Metric {
	return Metric{Kind: KindTokens, ID: id, Label: label, Tokens: &TokenValue{Used: used, Limit: limit, Remaining: remaining}}
}

// NewPercent builds a percent metric.
func NewPercent(id, label string, value float64, basis Direction) Metric {
	return Metric{Kind: KindPercent, ID: id, Label: label, Percent: &PercentValue{Value: value, Basis: basis}}
}

// NewTime builds a time metric.
func NewTime(id, label string, at time.Time, role TimeRole) Metric {
	return Metric{Kind: KindTime, ID: id, Label: label, Time: &TimeValue{At: at, Role: role}}
}

// NewStatus builds a status metric.
func NewStatus(id, label string, value StatusValue, message string) Metric {
	return Metric{Kind: KindStatus, ID: id, Label: label, Status: &StatusPayload{Value: value, Message: message}}
}

// AsPrimary returns a copy of m flagged as the primary reading.
func (m Metric) AsPrimary() Metric {
	m.Primary = true
	return m
}

// Float returns a pointer to v, for building token metrics.
func Float(v float64) *float64 {
	return &v
}

// RemainingTokens returns the remaining token budget, deriving it from
// limit and used when the vendor did not report it.
func (t TokenValue) RemainingTokens() (float64, bool) {
	if t.Remaining != nil {
		return *t.Remaining, true
	}
	if t.Limit != nil && t.Used != nil {
		return *t.Limit - *t.Used, true
	}
	return 0, false
}

// Validate checks that exactly the payload matching Kind is present.
func (m Metric) Validate() error {
	set := 0
	for _, present := range []bool{m.Amount != nil, m.Tokens != nil, m.Percent != nil, m.Time != nil, m.Status != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return m.invalid(fmt.Sprintf("expected one payload, found %d", set))
	}

	var ok bool
	switch m.Kind {
	case KindAmount:
		ok = m.Amount != nil
	case KindTokens:
		ok = m.Tokens != nil
	case KindPercent:
		ok = m.Percent != nil && m.Percent.Value >= 0 && m.Percent.Value <= 100
	case KindTime:
		ok = m.Time != nil
	case KindStatus:
		ok = m.Status != nil
	default:
		return m.invalid("unknown kind")
	}
	if !ok {
		return m.invalid("payload does not match kind")
	}
	return nil
}

func (m Metric) invalid(reason string) error {
	return bwerr.WithDetails(bwerr.ErrInvalidSnapshot, map[string]string{
		"metric": m.ID,
		"kind":   string(m.Kind),
		"reason": reason,
	})
}

// String renders the metric value for display.
func (m Metric) String() string {
	switch m.Kind {
	case KindAmount:
		if m.Amount == nil {
			return ""
		}
		if m.Amount.Currency != "" {
			return fmt.Sprintf("%.2f %s", m.Amount.Value, m.Amount.Currency)
		}
		return fmt.Sprintf("%.2f", m.Amount.Value)
	case KindTokens:
		if m.Tokens == nil {
			return ""
		}
		if rem, ok := m.Tokens.RemainingTokens(); ok {
			if m.Tokens.Limit != nil {
				return fmt.Sprintf("%.0f / %.0f tokens", rem, *m.Tokens.Limit)
			}
			return fmt.Sprintf("%.0f tokens", rem)
		}
		if m.Tokens.Used != nil {
			return fmt.Sprintf("%.0f tokens used", *m.Tokens.Used)
		}
		return ""
	case KindPercent:
		if m.Percent == nil {
			return ""
		}
		return fmt.Sprintf("%.1f%% %s", m.Percent.Value, m.Percent.Basis)
	case KindTime:
		if m.Time == nil {
			return ""
		}
		return fmt.Sprintf("%s %s", m.Time.Role, m.Time.At.UTC().Format(time.RFC3339))
	case KindStatus:
		if m.Status == nil {
			return ""
		}
		if m.Status.Message != "" {
			return fmt.Sprintf("%s (%s)", m.Status.Value, m.Status.Message)
		}
		return string(m.Status.Value)
	default:
		return ""
	}
}
