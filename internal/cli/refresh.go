package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/service/refresh"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// refreshTimeout bounds the whole refresh run.
	refreshTimeout time.Duration
)

// refreshCmd force-refreshes balances and prints the result.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var refreshCmd = &cobra.Command{
	Use:   "refresh [provider]",
	Short: "Fetch fresh balances now",
	Long: `Fetch fresh balances from the vendors, bypassing the throttle window.

Without arguments every provider with a balance source is refreshed in
parallel. With a provider name only that provider is refreshed. Results are
persisted so a running or later 'balancewatch watch' picks them up.`,
	Example: `  balancewatch refresh
  balancewatch refresh deepseek
  balancewatch refresh --timeout 30s -o json`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProviderNames,
	RunE:              runRefresh,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	refreshCmd.GroupID = groupMonitor
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().DurationVar(&refreshTimeout, "timeout", 2*time.Minute, "maximum time to wait for vendors")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	var target string
	if len(args) == 1 {
		p, err := lookupProvider(cc.Cfg, args[0])
		if err != nil {
			return err
		}
		if err := requireBalance(cc, p); err != nil {
			return err
		}
		target = p.Name
	}

	rt, err := newEngine(cc)
	if err != nil {
		return err
	}

	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		rt.Close(flushCtx, cc.Log)
	}()

	ctx, cancel := contextWithTimeout(cmd, refreshTimeout)
	defer cancel()

	if err := rt.coord.Start(ctx); err != nil {
		return err
	}

	var states []refresh.State
	refreshed := 0
	if target != "" {
		if rt.coord.ForceRefresh(ctx, target) {
			refreshed = 1
		}
		if st, ok := rt.coord.ProviderState(target); ok {
			states = append(states, st)
		}
	} else {
		refreshed = rt.coord.ForceRefreshAll(ctx)
		states = rt.coord.States()
	}

	if ctx.Err() != nil {
		return bwerr.WithDetails(bwerr.ErrTimeout, map[string]string{"timeout": refreshTimeout.String()})
	}

	now := time.Now()
	rows := make([]BalanceRow, 0, len(states))
	for _, st := range states {
		rows = append(rows, balanceRow(st, now, cc.Cfg.Refresh.Interval))
	}

	return writeBalances(cc.Fmt, BalanceResponse{
		Balances:  rows,
		Refreshed: refreshed,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// requireBalance fails when p has no balance source configured.
func requireBalance(cc *CommandContext, p config.ProviderConfig) error {
	if p.HasBalance() {
		return nil
	}
	return bwerr.WithSuggestion(
		bwerr.WithDetails(bwerr.ErrBalanceNotConfigured, map[string]string{"provider": p.Name}),
		"set balance.method for this provider in "+cc.ConfigPath,
	)
}
