package provider

import (
	"strings"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
)

// OptionBaseURL overrides the balance endpoint host for a provider.
const OptionBaseURL = "base_url"

// ResolveBaseURL picks the balance endpoint base for p: the balance
// base_url option, else the provider base URL with any of trim removed
// from its end, else fallback.
func ResolveBaseURL(p config.ProviderConfig, fallback string, trim ...string) string {
	if p.Balance != nil {
		if u := strings.TrimSpace(p.Balance.Options[OptionBaseURL]); u != "" {
			return u
		}
	}
	u := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if u == "" {
		return fallback
	}
	for _, suffix := range trim {
		u = strings.TrimSuffix(u, suffix)
	}
	return u
}

// Option returns a balance option for p, or "".
func Option(p config.ProviderConfig, key string) string {
	if p.Balance == nil {
		return ""
	}
	return strings.TrimSpace(p.Balance.Options[key])
}

// RequireCredential returns a failed result when cred carries no secret.
func RequireCredential(cred *balance.Credential) (balance.RefreshResult, bool) {
	if cred.IsNone() {
		return balance.Failed("api key required for balance lookup"), false
	}
	return balance.RefreshResult{}, true
}
