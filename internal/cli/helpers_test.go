package cli

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/output"
	"github.com/mrz1836/balancewatch/internal/store"
)

const (
	fakeMethod     = "fake"
	fakeConfMethod = "fake-conf"
)

// staticAdapter reports a fixed remaining amount, or fails with failure.
type staticAdapter struct {
	value   float64
	failure string
	calls   *atomic.Int32
}

func (a *staticAdapter) Refresh(_ context.Context, _ balance.RefreshInput) (balance.RefreshResult, error) {
	a.calls.Add(1)
	if a.failure != "" {
		return balance.Failed(a.failure), nil
	}
	return balance.Succeeded(&balance.Snapshot{Items: []balance.Metric{
		balance.NewAmount("balance", "Balance", a.value, "USD", balance.Remaining).AsPrimary(),
	}}), nil
}

// configurableAdapter adds a region option when it is missing.
type configurableAdapter struct {
	staticAdapter
	cfg config.BalanceConfig
}

func (a *configurableAdapter) Config() *config.BalanceConfig {
	return a.cfg.Clone()
}

func (a *configurableAdapter) Configure(_ context.Context) (balance.ConfigureResult, error) {
	next := a.cfg.Clone()
	if next.Options == nil {
		next.Options = map[string]string{}
	}
	if next.Options["region"] == "" {
		next.Options["region"] = "auto"
	}
	a.cfg = *next
	return balance.ConfigureResult{Success: true, Config: next.Clone()}, nil
}

// testEnv is a command context backed by memory state and fake adapters.
type testEnv struct {
	cc     *CommandContext
	out    *bytes.Buffer
	state  *store.Memory
	calls  atomic.Int32
	values map[string]float64
	errors map[string]string
}

func newTestEnv(t *testing.T, providers ...config.ProviderConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		out:    new(bytes.Buffer),
		state:  store.NewMemory(),
		values: map[string]float64{},
		errors: map[string]string{},
	}

	home := t.TempDir()
	c := config.Defaults()
	c.Home = home
	c.Storage.Driver = config.StorageMemory
	c.Storage.Path = ""
	c.Providers = providers

	factory := balance.NewConfigurableFactory()
	factory.Register(fakeMethod, func(p config.ProviderConfig) (balance.Adapter, error) {
		return &staticAdapter{value: env.values[p.Name], failure: env.errors[p.Name], calls: &env.calls}, nil
	})

	factory.Register(fakeConfMethod, func(p config.ProviderConfig) (balance.Adapter, error) {
		return &configurableAdapter{
			staticAdapter: staticAdapter{value: env.values[p.Name], calls: &env.calls},
			cfg:           *p.Balance.Clone(),
		}, nil
	})

	env.cc = NewCommandContext(c, config.Path(home), config.NullLogger(), output.NewFormatter(output.FormatText, env.out)).
		WithFactory(factory).
		WithStateStore(env.state)
	return env
}

func newTestContext(t *testing.T, providers ...config.ProviderConfig) *CommandContext {
	t.Helper()
	return newTestEnv(t, providers...).cc
}

// json switches the env's formatter to JSON output.
func (e *testEnv) json() {
	e.cc.Fmt = output.NewFormatter(output.FormatJSON, e.out)
}

// command returns a fresh command bound to the env.
func (e *testEnv) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	SetCmdContext(cmd, e.cc)
	return cmd
}

func fakeProvider(name string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    name,
		Type:    "openai",
		BaseURL: "https://" + name + ".example.com/v1",
		Auth:    config.AuthConfig{Method: "none"},
		Balance: &config.BalanceConfig{Method: fakeMethod},
	}
}

// testProviders is a mixed set: two tracked providers, one with an
// unsupported method and one without a balance source.
func testProviders() []config.ProviderConfig {
	plain := fakeProvider("plain")
	plain.Balance = nil
	unknown := fakeProvider("moonshot-typo")
	unknown.Balance = &config.BalanceConfig{Method: "moonshoot"}
	return []config.ProviderConfig{fakeProvider("openrouter"), fakeProvider("deepseek"), unknown, plain}
}
