package balance

import (
	"sort"
	"sync"

	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Factory creates adapters keyed on the provider's balance method.
// Vendor packages import this package, so concrete creators are registered
// from the CLI layer rather than here.
type Factory interface {
	// New creates a fresh adapter for the provider.
	New(p config.ProviderConfig) (Adapter, error)

	// IsSupported reports whether an adapter is registered for method.
	IsSupported(method string) bool
}

// Creator builds an adapter for one provider.
type Creator func(p config.ProviderConfig) (Adapter, error)

// ConfigurableFactory is a factory that can have adapter creators registered.
type ConfigurableFactory struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

// NewConfigurableFactory creates a new configurable factory.
func NewConfigurableFactory() *ConfigurableFactory {
	return &ConfigurableFactory{
		creators: make(map[string]Creator),
	}
}

// Register adds a creator for the given balance method.
func (f *ConfigurableFactory) Register(method string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[method] = creator
}

// New creates an adapter using the creator registered for p's method.
func (f *ConfigurableFactory) New(p config.ProviderConfig) (Adapter, error) {
	method := p.BalanceMethod()
	if method == "" {
		return nil, bwerr.Wrap(bwerr.ErrBalanceNotConfigured, "provider %q", p.Name)
	}

	f.mu.RLock()
	creator, ok := f.creators[method]
	f.mu.RUnlock()
	if !ok {
		return nil, bwerr.WithDetails(bwerr.ErrBalanceUnavailable, map[string]string{"method": method})
	}
	return creator(p)
}

// IsSupported returns true if method has a registered creator.
func (f *ConfigurableFactory) IsSupported(method string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[method]
	return ok
}

// Methods returns all registered balance methods, sorted.
func (f *ConfigurableFactory) Methods() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	methods := make([]string, 0, len(f.creators))
	for m := range f.creators {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Compile-time interface check
var _ Factory = (*ConfigurableFactory)(nil)
