package balance

import (
	"context"

	"github.com/mrz1836/balancewatch/internal/config"
)

// CredentialKind describes how a credential is presented to a vendor.
type CredentialKind string

// Credential kinds.
const (
	CredentialNone   CredentialKind = "none"
	CredentialAPIKey CredentialKind = "api-key"
	CredentialBearer CredentialKind = "bearer"
)

// Credential is a resolved, normalized token descriptor.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// NoCredential is the synthetic token handed to adapters when a provider
// authenticates with method "none".
func NoCredential() *Credential {
	return &Credential{Kind: CredentialNone}
}

// IsNone reports whether the credential carries no secret.
func (c *Credential) IsNone() bool {
	return c == nil || c.Kind == CredentialNone || c.Value == ""
}

// ConfigUpdater persists an adapter-driven change to the provider's balance
// configuration, such as a newly discovered account id.
type ConfigUpdater func(ctx context.Context, cfg config.BalanceConfig) error

// RefreshInput is everything an adapter needs for one refresh.
type RefreshInput struct {
	Provider     config.ProviderConfig
	Credential   *Credential
	UpdateConfig ConfigUpdater
}

// RefreshResult is an adapter's structured outcome. A result with
// Success false, or without a Snapshot, is a failure.
type RefreshResult struct {
	Success  bool
	Snapshot *Snapshot
	Error    string
}

// Succeeded builds a successful result.
func Succeeded(s *Snapshot) RefreshResult {
	return RefreshResult{Success: true, Snapshot: s}
}

// Failed builds a failed result.
func Failed(msg string) RefreshResult {
	return RefreshResult{Success: false, Error: msg}
}

// Adapter fetches a balance snapshot for one provider. Instances are short
// lived: one is created per refresh and disposed afterwards.
type Adapter interface {
	Refresh(ctx context.Context, in RefreshInput) (RefreshResult, error)
}

// ConfigureResult is returned by Configurable.Configure.
type ConfigureResult struct {
	Success bool
	Config  *config.BalanceConfig
}

// Configurable adapters expose and (re)derive their own configuration.
type Configurable interface {
	Config() *config.BalanceConfig
	Configure(ctx context.Context) (ConfigureResult, error)
}

// Disposer adapters hold resources released after each refresh.
type Disposer interface {
	Dispose()
}

// FieldDetailer adapters describe their configuration for display.
type FieldDetailer interface {
	FieldDetail(p config.ProviderConfig) string
}

// StatusItem is one row of an adapter-specific status view.
type StatusItem struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Detail string `json:"detail,omitempty"`
}

// StatusViewer adapters project a snapshot into display rows.
type StatusViewer interface {
	StatusViewItems(s *Snapshot) []StatusItem
}

// Dispose releases a if it implements Disposer.
func Dispose(a Adapter) {
	if d, ok := a.(Disposer); ok {
		d.Dispose()
	}
}

// DefaultStatusItems renders every metric of s as a status row.
func DefaultStatusItems(s *Snapshot) []StatusItem {
	if s == nil {
		return nil
	}
	items := make([]StatusItem, 0, len(s.Items))
	for _, m := range s.Items {
		item := StatusItem{Label: m.Label, Value: m.String()}
		if m.Period != "" {
			item.Detail = string(m.Period)
		}
		items = append(items, item)
	}
	return items
}
