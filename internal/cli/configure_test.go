package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

func gatewayProvider(name string, options map[string]string) config.ProviderConfig {
	p := fakeProvider(name)
	p.Balance = &config.BalanceConfig{Method: fakeConfMethod, Options: options}
	return p
}

func TestConfigure_SavesDerivedSettings(t *testing.T) {
	env := newTestEnv(t, gatewayProvider("gateway", nil), fakeProvider("openrouter"))
	env.json()

	require.NoError(t, runConfigure(env.command(), []string{"gateway"}))

	var resp ConfigureResponse
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &resp))
	assert.True(t, resp.Configurable)
	assert.True(t, resp.Changed)
	assert.Equal(t, "auto", resp.Options["region"])

	saved, err := config.Load(env.cc.ConfigPath)
	require.NoError(t, err)
	require.Len(t, saved.Providers, 2)
	assert.Equal(t, "gateway", saved.Providers[0].Name)
	assert.Equal(t, "auto", saved.Providers[0].Balance.Options["region"])
	assert.Equal(t, "openrouter", saved.Providers[1].Name)
	assert.Zero(t, env.calls.Load(), "configure never fetches a balance")
}

func TestConfigure_AlreadyComplete(t *testing.T) {
	env := newTestEnv(t, gatewayProvider("gateway", map[string]string{"region": "eu"}))

	require.NoError(t, runConfigure(env.command(), []string{"gateway"}))

	out := env.out.String()
	assert.Contains(t, out, "already complete")
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "eu")
	assert.NoFileExists(t, env.cc.ConfigPath)
}

func TestConfigure_NotConfigurable(t *testing.T) {
	env := newTestEnv(t, fakeProvider("openrouter"))

	require.NoError(t, runConfigure(env.command(), []string{"openrouter"}))
	assert.Contains(t, env.out.String(), "has no settings to derive")
	assert.NoFileExists(t, env.cc.ConfigPath)
}

func TestConfigure_Errors(t *testing.T) {
	env := newTestEnv(t, testProviders()...)

	err := runConfigure(env.command(), []string{"plain"})
	require.ErrorIs(t, err, bwerr.ErrBalanceNotConfigured)

	err = runConfigure(env.command(), []string{"moonshot-typo"})
	require.ErrorIs(t, err, bwerr.ErrBalanceUnavailable)

	err = runConfigure(env.command(), []string{"gatewy"})
	require.ErrorIs(t, err, bwerr.ErrProviderNotFound)
}
