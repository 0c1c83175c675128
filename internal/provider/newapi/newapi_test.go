package newapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

var (
	key         = &balance.Credential{Kind: balance.CredentialAPIKey, Value: "access-token"}
	errSaveFail = errors.New("disk full")
)

func newTestAdapter(t *testing.T, url string, opts map[string]string) *Adapter {
	t.Helper()
	retry := provider.RetryConfig{MaxAttempts: 1}
	a, err := newAdapter(config.ProviderConfig{
		Name:    "gw",
		BaseURL: url,
		Balance: &config.BalanceConfig{Method: Method, Options: opts},
	}, &provider.ClientOptions{RateLimiter: provider.NewRateLimiter(1000, 100), Retry: &retry})
	require.NoError(t, err)
	return a
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(config.ProviderConfig{Name: "gw", Balance: &config.BalanceConfig{Method: Method}})
	require.ErrorIs(t, err, bwerr.ErrInvalidInput)
}

func TestRefresh_DiscoversUserID(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/self", r.URL.Path)
		if calls.Add(1) == 2 {
			assert.Equal(t, "42", r.Header.Get("New-Api-User"))
		} else {
			assert.Empty(t, r.Header.Get("New-Api-User"))
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":42,"quota":1000000,"used_quota":250000}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL, nil)

	var saved []config.BalanceConfig
	update := func(_ context.Context, cfg config.BalanceConfig) error {
		saved = append(saved, cfg)
		return nil
	}

	res, err := a.Refresh(context.Background(), balance.RefreshInput{Credential: key, UpdateConfig: update})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, saved, 1)
	assert.Equal(t, "42", saved[0].Options[OptionUserID])
	assert.Equal(t, "42", a.Config().Options[OptionUserID])

	primary, _ := res.Snapshot.Primary()
	assert.InDelta(t, 2.0, primary.Amount.Value, 0.0001)

	_, err = a.Refresh(context.Background(), balance.RefreshInput{Credential: key, UpdateConfig: update})
	require.NoError(t, err)
	assert.Len(t, saved, 1, "known user id is not written again")
}

func TestRefresh_UpdateFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":7,"quota":1}}`))
	}))
	defer server.Close()

	_, err := newTestAdapter(t, server.URL, nil).Refresh(context.Background(), balance.RefreshInput{
		Credential:   key,
		UpdateConfig: func(context.Context, config.BalanceConfig) error { return errSaveFail },
	})
	require.ErrorIs(t, err, errSaveFail)
}

func TestRefresh_Rejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"user id mismatch"}`))
	}))
	defer server.Close()

	res, err := newTestAdapter(t, server.URL, map[string]string{OptionUserID: "1"}).
		Refresh(context.Background(), balance.RefreshInput{Credential: key})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "user id mismatch", res.Error)
}

func TestQuotaPerUnit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":1,"quota":0,"used_quota":10}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL, map[string]string{OptionUserID: "1", OptionQuotaPerUnit: "10"})
	res, err := a.Refresh(context.Background(), balance.RefreshInput{Credential: key})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.Snapshot.IsLow(balance.Thresholds{}))

	for _, m := range res.Snapshot.Items {
		if m.ID == "used" {
			assert.InDelta(t, 1.0, m.Amount.Value, 0.0001)
		}
	}
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, "https://gw.local", nil)
	res, err := a.Configure(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "500000", res.Config.Options[OptionQuotaPerUnit])
	assert.Equal(t, Method, a.Config().Method)
	a.Dispose()
}
