// Package deepseek reads account balances from the DeepSeek platform.
package deepseek

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
)

const (
	// Method is the balance method name for DeepSeek.
	Method = "deepseek"

	// DefaultBaseURL is the public DeepSeek API.
	DefaultBaseURL = "https://api.deepseek.com"
)

type balanceInfo struct {
	Currency        string `json:"currency"`
	TotalBalance    string `json:"total_balance"`
	GrantedBalance  string `json:"granted_balance"`
	ToppedUpBalance string `json:"topped_up_balance"`
}

type balanceResponse struct {
	IsAvailable  bool          `json:"is_available"`
	BalanceInfos []balanceInfo `json:"balance_infos"`
}

// Adapter fetches one DeepSeek balance.
type Adapter struct {
	client *provider.Client
	now    func() time.Time
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
	return &Adapter{client: client, now: time.Now}, nil
}

// Refresh implements balance.Adapter.
func (a *Adapter) Refresh(ctx context.Context, in balance.RefreshInput) (balance.RefreshResult, error) {
	if res, ok := provider.RequireCredential(in.Credential); !ok {
		return res, nil
	}

	var resp balanceResponse
	if err := a.client.GetJSON(ctx, "/user/balance", in.Credential, &resp); err != nil {
		return balance.RefreshResult{}, err
	}
	if len(resp.BalanceInfos) == 0 {
		return balance.Failed("deepseek returned no balance information"), nil
	}

	snap := &balance.Snapshot{UpdatedAt: a.now()}
	for i, info := range resp.BalanceInfos {
		total, err := parseAmount(info.TotalBalance)
		if err != nil {
			return balance.Failed(fmt.Sprintf("deepseek total_balance %q: %v", info.TotalBalance, err)), nil
		}
		cur := strings.ToLower(info.Currency)
		m := balance.NewAmount("total_"+cur, "Balance ("+info.Currency+")", total, info.Currency, balance.Remaining)
		if i == 0 {
			m = m.AsPrimary()
		}
		snap.Items = append(snap.Items, m)

		if granted, err := parseAmount(info.GrantedBalance); err == nil && granted > 0 {
			snap.Items = append(snap.Items,
				balance.NewAmount("granted_"+cur, "Granted ("+info.Currency+")", granted, info.Currency, balance.Remaining))
		}
	}

	status := balance.StatusOK
	if !resp.IsAvailable {
		status = balance.StatusExhausted
	}
	snap.Items = append(snap.Items, balance.NewStatus("availability", "Available", status, ""))

	return balance.Succeeded(snap), nil
}

// FieldDetail implements balance.FieldDetailer.
func (a *Adapter) FieldDetail(p config.ProviderConfig) string {
	return fmt.Sprintf("DeepSeek balance via %s/user/balance (%s)", a.client.BaseURL(), p.Name)
}

// Dispose implements balance.Disposer.
func (a *Adapter) Dispose() {
	a.client.Close()
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

var (
	_ balance.Adapter       = (*Adapter)(nil)
	_ balance.FieldDetailer = (*Adapter)(nil)
	_ balance.Disposer      = (*Adapter)(nil)
)
