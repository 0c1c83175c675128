// Package openrouter reads remaining credits from OpenRouter.
package openrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
)

const (
	// Method is the balance method name for OpenRouter.
	Method = "openrouter"

	// DefaultBaseURL is the public OpenRouter host.
	DefaultBaseURL = "https://openrouter.ai"
)

type creditsResponse struct {
	Data struct {
		TotalCredits float64 `json:"total_credits"`
		TotalUsage   float64 `json:"total_usage"`
	} `json:"data"`
}

// Adapter fetches OpenRouter credits.
type Adapter struct {
	client *provider.Client
	now    func() time.Time
}

// New creates an adapter for p.
func New(p config.ProviderConfig) (balance.Adapter, error) {
	return newAdapter(p, nil)
}

func newAdapter(p config.ProviderConfig, opts *provider.ClientOptions) (*Adapter, error) {
	client, err := provider.NewClient(provider.ResolveBaseURL(p, DefaultBaseURL, "/api/v1", "/v1"), opts)
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

	var resp creditsResponse
	if err := a.client.GetJSON(ctx, "/api/v1/credits", in.Credential, &resp); err != nil {
		return balance.RefreshResult{}, err
	}

	total := resp.Data.TotalCredits
	used := resp.Data.TotalUsage
	remaining := total - used

	items := []balance.Metric{
		balance.NewAmount("remaining", "Remaining", remaining, "USD", balance.Remaining).AsPrimary(),
		balance.NewAmount("used", "Used", used, "USD", balance.Used),
		balance.NewAmount("purchased", "Purchased", total, "USD", balance.Limit),
	}
	if total > 0 {
		pct := min(max(used/total*100, 0), 100)
		items = append(items, balance.NewPercent("used_pct", "Used", pct, balance.Used))
	}
	if remaining <= 0 {
		items = append(items, balance.NewStatus("state", "State", balance.StatusExhausted, "no credits left"))
	}

	return balance.Succeeded(&balance.Snapshot{Items: items, UpdatedAt: a.now()}), nil
}

// StatusViewItems implements balance.StatusViewer.
func (a *Adapter) StatusViewItems(s *balance.Snapshot) []balance.StatusItem {
	if s == nil {
		return nil
	}
	var remaining, purchased *balance.Metric
	for i := range s.Items {
		switch s.Items[i].ID {
		case "remaining":
			remaining = &s.Items[i]
		case "purchased":
			purchased = &s.Items[i]
		}
	}
	if remaining == nil || remaining.Amount == nil {
		return balance.DefaultStatusItems(s)
	}

	item := balance.StatusItem{Label: "Credits", Value: fmt.Sprintf("$%.2f", remaining.Amount.Value)}
	if purchased != nil && purchased.Amount != nil {
		item.Detail = fmt.Sprintf("of $%.2f purchased", purchased.Amount.Value)
	}
	return []balance.StatusItem{item}
}

// Dispose implements balance.Disposer.
func (a *Adapter) Dispose() {
	a.client.Close()
}

var (
	_ balance.Adapter      = (*Adapter)(nil)
	_ balance.StatusViewer = (*Adapter)(nil)
	_ balance.Disposer     = (*Adapter)(nil)
)
