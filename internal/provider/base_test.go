package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/provider"
)

func TestResolveBaseURL(t *testing.T) {
	t.Parallel()

	const fallback = "https://api.example.com"

	tests := []struct {
		name string
		p    config.ProviderConfig
		want string
	}{
		{"fallback", config.ProviderConfig{}, fallback},
		{"provider url trimmed", config.ProviderConfig{BaseURL: "https://proxy.local/v1/"}, "https://proxy.local"},
		{"provider url kept", config.ProviderConfig{BaseURL: "https://proxy.local/api"}, "https://proxy.local/api"},
		{"option wins", config.ProviderConfig{
			BaseURL: "https://proxy.local/v1",
			Balance: &config.BalanceConfig{Options: map[string]string{provider.OptionBaseURL: "https://billing.local"}},
		}, "https://billing.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, provider.ResolveBaseURL(tt.p, fallback, "/v1"))
		})
	}
}

func TestOption(t *testing.T) {
	t.Parallel()

	assert.Empty(t, provider.Option(config.ProviderConfig{}, "user_id"))
	p := config.ProviderConfig{Balance: &config.BalanceConfig{Options: map[string]string{"user_id": " 7 "}}}
	assert.Equal(t, "7", provider.Option(p, "user_id"))
}

func TestRequireCredential(t *testing.T) {
	t.Parallel()

	res, ok := provider.RequireCredential(balance.NoCredential())
	assert.False(t, ok)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	_, ok = provider.RequireCredential(&balance.Credential{Kind: balance.CredentialAPIKey, Value: "k"})
	assert.True(t, ok)
}
