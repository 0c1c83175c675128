package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/output"
	"github.com/mrz1836/balancewatch/internal/store"
)

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Cfg        *config.Config
	ConfigPath string
	Log        *config.Logger
	Fmt        *output.Formatter
	Factory    balance.Factory

	// OpenState opens the persisted refresh state store.
	OpenState func(config.StorageConfig) (store.Store, error)
}

// NewCommandContext creates a context with the given dependencies and the
// default adapter factory.
func NewCommandContext(
	cfg *config.Config,
	configPath string,
	logger *config.Logger,
	formatter *output.Formatter,
) *CommandContext {
	return &CommandContext{
		Cfg:        cfg,
		ConfigPath: configPath,
		Log:        logger,
		Fmt:        formatter,
		Factory:    NewAdapterFactory(),
		OpenState:  openStateStore,
	}
}

// WithFactory sets the adapter factory.
func (c *CommandContext) WithFactory(f balance.Factory) *CommandContext {
	c.Factory = f
	return c
}

// WithStateStore makes OpenState return s.
func (c *CommandContext) WithStateStore(s store.Store) *CommandContext {
	c.OpenState = func(config.StorageConfig) (store.Store, error) { return s, nil }
	return c
}

type cmdContextKey struct{}

// SetCmdContext attaches cc to cmd's context.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, cc))
}

// GetCmdContext returns the CommandContext attached to cmd, falling back to
// the one built by initGlobals.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	if ctx := cmd.Context(); ctx != nil {
		if cc, ok := ctx.Value(cmdContextKey{}).(*CommandContext); ok && cc != nil {
			return cc
		}
	}
	return cmdCtx
}

// contextWithTimeout returns a timeout context rooted in the command context.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, d)
}

func openStateStore(sc config.StorageConfig) (store.Store, error) {
	sc.Path = config.ExpandHome(sc.Path)
	return store.Open(sc)
}
