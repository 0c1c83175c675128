// Package newapi reads quota from self-hosted New API / One API gateways.
//
// The gateway needs the numeric user id alongside the access token. When it
// is not configured the adapter discovers it from the first response and
// writes it back to the provider configuration.
package newapi

import (
	"context"
	"strconv"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Balance options.
const (
	// Method is the balance method name for New API gateways.
	Method = "newapi"

	OptionUserID       = "user_id"
	OptionQuotaPerUnit = "quota_per_unit"

	// DefaultQuotaPerUnit is the gateway's default quota per 1 USD.
	DefaultQuotaPerUnit = 500000
)

type selfResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID        int64   `json:"id"`
		Username  string  `json:"username"`
		Quota     float64 `json:"quota"`
		UsedQuota float64 `json:"used_quota"`
	} `json:"data"`
}

// Adapter fetches New API quota.
type Adapter struct {
	client *provider.Client
	cfg    config.BalanceConfig
	now    func() time.Time
}

// New creates an adapter for p. A base URL is required since gateways are
// self-hosted.
func New(p config.ProviderConfig) (balance.Adapter, error) {
	return newAdapter(p, nil)
}

func newAdapter(p config.ProviderConfig, opts *provider.ClientOptions) (*Adapter, error) {
	base := provider.ResolveBaseURL(p, "", "/v1")
	if base == "" {
		return nil, bwerr.WithDetails(bwerr.ErrInvalidInput, map[string]string{"base_url": "required for newapi"})
	}
	client, err := provider.NewClient(base, opts)
	if err != nil {
		return nil, err
	}

	cfg := config.BalanceConfig{Method: Method, Options: map[string]string{}}
	if p.Balance != nil {
		cfg = *p.Balance.Clone()
		if cfg.Options == nil {
			cfg.Options = map[string]string{}
		}
	}
	return &Adapter{client: client, cfg: cfg, now: time.Now}, nil
}

// Config implements balance.Configurable.
func (a *Adapter) Config() *config.BalanceConfig {
	return a.cfg.Clone()
}

// Configure fills in defaults for missing options.
func (a *Adapter) Configure(_ context.Context) (balance.ConfigureResult, error) {
	cfg := a.cfg.Clone()
	if cfg.Options[OptionQuotaPerUnit] == "" {
		cfg.Options[OptionQuotaPerUnit] = strconv.Itoa(DefaultQuotaPerUnit)
	}
	a.cfg = *cfg
	return balance.ConfigureResult{Success: true, Config: cfg.Clone()}, nil
}

// Refresh implements balance.Adapter.
func (a *Adapter) Refresh(ctx context.Context, in balance.RefreshInput) (balance.RefreshResult, error) {
	if res, ok := provider.RequireCredential(in.Credential); !ok {
		return res, nil
	}

	var opts []provider.RequestOption
	userID := a.cfg.Options[OptionUserID]
	if userID != "" {
		opts = append(opts, provider.WithHeader("New-Api-User", userID))
	}

	var resp selfResponse
	if err := a.client.GetJSON(ctx, "/api/user/self", in.Credential, &resp, opts...); err != nil {
		return balance.RefreshResult{}, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "newapi rejected the balance lookup"
		}
		return balance.Failed(msg), nil
	}

	if discovered := strconv.FormatInt(resp.Data.ID, 10); resp.Data.ID > 0 && discovered != userID && in.UpdateConfig != nil {
		next := a.cfg.Clone()
		next.Options[OptionUserID] = discovered
		if err := in.UpdateConfig(ctx, *next); err != nil {
			return balance.RefreshResult{}, bwerr.Wrap(err, "saving discovered user id")
		}
		a.cfg = *next
	}

	perUnit := a.quotaPerUnit()
	remaining := resp.Data.Quota / perUnit
	used := resp.Data.UsedQuota / perUnit

	items := []balance.Metric{
		balance.NewAmount("remaining", "Remaining", remaining, "USD", balance.Remaining).AsPrimary(),
		balance.NewAmount("used", "Used", used, "USD", balance.Used),
		balance.NewTokens("quota", "Quota", balance.Float(resp.Data.UsedQuota), nil, balance.Float(resp.Data.Quota)),
	}
	if resp.Data.Quota <= 0 {
		items = append(items, balance.NewStatus("state", "State", balance.StatusExhausted, "quota used up"))
	}
	return balance.Succeeded(&balance.Snapshot{Items: items, UpdatedAt: a.now()}), nil
}

func (a *Adapter) quotaPerUnit() float64 {
	v, err := strconv.ParseFloat(a.cfg.Options[OptionQuotaPerUnit], 64)
	if err != nil || v <= 0 {
		return DefaultQuotaPerUnit
	}
	return v
}

// Dispose implements balance.Disposer.
func (a *Adapter) Dispose() {
	a.client.Close()
}

var (
	_ balance.Adapter      = (*Adapter)(nil)
	_ balance.Configurable = (*Adapter)(nil)
	_ balance.Disposer     = (*Adapter)(nil)
)
