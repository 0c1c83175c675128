package balance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/balance"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

func TestMetric_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		metric balance.Metric
		ok     bool
	}{
		{"amount", balance.NewAmount("a", "Balance", 3.5, "USD", balance.Remaining), true},
		{"tokens", balance.NewTokens("t", "Tokens", balance.Float(10), balance.Float(100), nil), true},
		{"percent", balance.NewPercent("p", "Quota", 42, balance.Used), true},
		{"percent out of range", balance.NewPercent("p", "Quota", 142, balance.Used), false},
		{"time", balance.NewTime("r", "Reset", time.Unix(0, 0), balance.ResetsAt), true},
		{"status", balance.NewStatus("s", "State", balance.StatusOK, ""), true},
		{"no payload", balance.Metric{Kind: balance.KindAmount, ID: "x"}, false},
		{"mismatched payload", balance.Metric{Kind: balance.KindTokens, Amount: &balance.AmountValue{}}, false},
		{"two payloads", balance.Metric{
			Kind:   balance.KindAmount,
			Amount: &balance.AmountValue{},
			Status: &balance.StatusPayload{},
		}, false},
		{"unknown kind", balance.Metric{Kind: "gauge", Amount: &balance.AmountValue{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.metric.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, bwerr.ErrInvalidSnapshot)
		})
	}
}

func TestTokenValue_RemainingTokens(t *testing.T) {
	t.Parallel()

	rem, ok := balance.TokenValue{Used: balance.Float(30), Limit: balance.Float(100)}.RemainingTokens()
	require.True(t, ok)
	assert.InDelta(t, 70.0, rem, 0.0001)

	rem, ok = balance.TokenValue{Remaining: balance.Float(5), Used: balance.Float(30), Limit: balance.Float(100)}.RemainingTokens()
	require.True(t, ok)
	assert.InDelta(t, 5.0, rem, 0.0001)

	_, ok = balance.TokenValue{Used: balance.Float(1)}.RemainingTokens()
	assert.False(t, ok)
}

func TestMetric_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3.50 USD", balance.NewAmount("a", "", 3.5, "USD", balance.Remaining).String())
	assert.Equal(t, "3.50", balance.NewAmount("a", "", 3.5, "", balance.Remaining).String())
	assert.Equal(t, "70 / 100 tokens", balance.NewTokens("t", "", balance.Float(30), balance.Float(100), nil).String())
	assert.Equal(t, "12 tokens used", balance.NewTokens("t", "", balance.Float(12), nil, nil).String())
	assert.Equal(t, "42.0% used", balance.NewPercent("p", "", 42, balance.Used).String())
	assert.Equal(t, "reset 1970-01-01T00:00:00Z", balance.NewTime("r", "", time.Unix(0, 0), balance.ResetsAt).String())
	assert.Equal(t, "exhausted (top up)", balance.NewStatus("s", "", balance.StatusExhausted, "top up").String())
	assert.Empty(t, balance.Metric{Kind: "gauge"}.String())
}
