// Package moonshot reads the account balance of a Moonshot (Kimi) key.
package moonshot

import (
	"context"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
)

const (
	// Method is the balance method name for Moonshot.
	Method = "moonshot"

	// DefaultBaseURL is the public Moonshot API.
	DefaultBaseURL = "https://api.moonshot.cn"

	// OptionCurrency overrides the reported currency. The .cn platform bills
	// in CNY, the international one in USD.
	OptionCurrency = "currency"
)

type balanceResponse struct {
	Code   int    `json:"code"`
	Status bool   `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		AvailableBalance float64 `json:"available_balance"`
		VoucherBalance   float64 `json:"voucher_balance"`
		CashBalance      float64 `json:"cash_balance"`
	} `json:"data"`
}

// Adapter fetches a Moonshot balance.
type Adapter struct {
	client   *provider.Client
	currency string
	now      func() time.Time
}

// New creates an adapter for p.
func New(p config.ProviderConfig) (balance.Adapter, error) {
	return newAdapter(p, nil)
}

func newAdapter(p config.ProviderConfig, opts *provider.ClientOptions) (*Adapter, error) {
	client, err := provider.NewClient(provider.ResolveBaseURL(p, DefaultBaseURL, "/v1"), opts)
	if err != nil {
		return nil, err
	}
	currency := provider.Option(p, OptionCurrency)
	if currency == "" {
		currency = "CNY"
	}
	return &Adapter{client: client, currency: currency, now: time.Now}, nil
}

// Refresh implements balance.Adapter.
func (a *Adapter) Refresh(ctx context.Context, in balance.RefreshInput) (balance.RefreshResult, error) {
	if res, ok := provider.RequireCredential(in.Credential); !ok {
		return res, nil
	}

	var resp balanceResponse
	if err := a.client.GetJSON(ctx, "/v1/users/me/balance", in.Credential, &resp); err != nil {
		return balance.RefreshResult{}, err
	}
	if resp.Code != 0 || !resp.Status {
		msg := resp.Error
		if msg == "" {
			msg = "moonshot reported an unsuccessful balance lookup"
		}
		return balance.Failed(msg), nil
	}

	d := resp.Data
	items := []balance.Metric{
		balance.NewAmount("available", "Available", d.AvailableBalance, a.currency, balance.Remaining).AsPrimary(),
		balance.NewAmount("voucher", "Voucher", d.VoucherBalance, a.currency, balance.Remaining),
		balance.NewAmount("cash", "Cash", d.CashBalance, a.currency, balance.Remaining),
	}
	if d.AvailableBalance <= 0 {
		items = append(items, balance.NewStatus("state", "State", balance.StatusExhausted, "balance depleted"))
	}
	return balance.Succeeded(&balance.Snapshot{Items: items, UpdatedAt: a.now()}), nil
}

// Dispose implements balance.Disposer.
func (a *Adapter) Dispose() {
	a.client.Close()
}
