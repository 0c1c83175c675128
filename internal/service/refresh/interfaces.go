package refresh

import (
	"context"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
)

// ConfigStore supplies provider definitions and announces changes.
type ConfigStore interface {
	Endpoints() []config.ProviderConfig
	GetProvider(name string) (config.ProviderConfig, bool)
	OnDidChange(fn func()) func()
	RefreshInterval() time.Duration
	ThrottleWindow() time.Duration
	Warnings() config.WarningsConfig
	UpsertProvider(p config.ProviderConfig) error
}

// CredentialResolver turns a provider's auth config into a credential.
// A nil credential without error means the provider needs none.
type CredentialResolver interface {
	Resolve(ctx context.Context, auth config.AuthConfig) (*balance.Credential, error)
}

// StateStore is the durable key-value store refresh state is written to.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Logger is the levelled logger used by the coordinator.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Metrics receives coordinator activity.
type Metrics interface {
	RefreshStarted(provider string)
	RefreshFinished(provider, result string, d time.Duration)
	Throttled(provider, action string)
	SetLow(provider string, low bool)
	Forget(provider string)
	PersistFailed()
}

type nopMetrics struct{}

func (nopMetrics) RefreshStarted(string)                         {}
func (nopMetrics) RefreshFinished(string, string, time.Duration) {}
func (nopMetrics) Throttled(string, string)                      {}
func (nopMetrics) SetLow(string, bool)                           {}
func (nopMetrics) Forget(string)                                 {}
func (nopMetrics) PersistFailed()                                {}
