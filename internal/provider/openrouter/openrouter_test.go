package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
)

var key = &balance.Credential{Kind: balance.CredentialBearer, Value: "or-key"}

func serve(t *testing.T, body string) *Adapter {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/credits", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	retry := provider.RetryConfig{MaxAttempts: 1}
	a, err := newAdapter(config.ProviderConfig{BaseURL: server.URL + "/api/v1"}, &provider.ClientOptions{
		RateLimiter: provider.NewRateLimiter(1000, 100),
		Retry:       &retry,
	})
	require.NoError(t, err)
	return a
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	a := serve(t, `{"data":{"total_credits":50,"total_usage":42.5}}`)
	res, err := a.Refresh(context.Background(), balance.RefreshInput{Credential: key})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, res.Snapshot.Validate())

	primary, ok := res.Snapshot.Primary()
	require.True(t, ok)
	assert.InDelta(t, 7.5, primary.Amount.Value, 0.001)
	assert.True(t, res.Snapshot.IsLow(balance.Thresholds{PercentBelow: 20}))
	assert.False(t, res.Snapshot.IsLow(balance.Thresholds{AmountBelow: 5}))

	items := a.StatusViewItems(res.Snapshot)
	require.Len(t, items, 1)
	assert.Equal(t, balance.StatusItem{Label: "Credits", Value: "$7.50", Detail: "of $50.00 purchased"}, items[0])
}

func TestRefresh_Exhausted(t *testing.T) {
	t.Parallel()

	res, err := serve(t, `{"data":{"total_credits":10,"total_usage":10}}`).
		Refresh(context.Background(), balance.RefreshInput{Credential: key})
	require.NoError(t, err)
	assert.True(t, res.Snapshot.IsLow(balance.Thresholds{}))
}

func TestStatusViewItems_Fallback(t *testing.T) {
	t.Parallel()

	a := serve(t, `{}`)
	assert.Nil(t, a.StatusViewItems(nil))

	s := &balance.Snapshot{Items: []balance.Metric{balance.NewStatus("s", "State", balance.StatusOK, "")}}
	assert.Equal(t, balance.DefaultStatusItems(s), a.StatusViewItems(s))
}
