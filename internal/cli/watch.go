package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/balancewatch/internal/metrics"
	"github.com/mrz1836/balancewatch/internal/output"
	bwchi "github.com/mrz1836/balancewatch/internal/transport/chi"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// watchAddr overrides http.addr.
	watchAddr string
	// watchNoReload disables config file watching.
	watchNoReload bool
)

// watchCmd runs the coordinator with the HTTP API until interrupted.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the refresh coordinator and serve the balance API",
	Long: `Run the balance refresh coordinator in the foreground.

Every provider with a balance source is refreshed on start when its state is
missing or stale, then on every refresh interval. Editors can report finished
chat requests through the HTTP API; those refreshes are throttled per provider
and coalesced into one trailing refresh.

The config file is watched for changes. Providers that are removed or whose
balance-relevant settings change are reconciled without a restart.`,
	Example: `  balancewatch watch
  balancewatch watch --addr 127.0.0.1:9000
  balancewatch watch --no-reload`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	watchCmd.GroupID = groupMonitor
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "listen address (default: http.addr from config)")
	watchCmd.Flags().BoolVar(&watchNoReload, "no-reload", false, "do not watch the config file for changes")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	addr := cc.Cfg.HTTP.Addr
	if watchAddr != "" {
		addr = watchAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return bwerr.WithDetails(bwerr.Wrap(bwerr.ErrNetworkError, "listening on %s", addr), map[string]string{
			"reason": err.Error(),
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveWatch(ctx, cc, ln, !watchNoReload)
}

// serveWatch starts the coordinator and serves the API on ln until ctx is
// canceled, then shuts both down.
func serveWatch(ctx context.Context, cc *CommandContext, ln net.Listener, reload bool) error {
	rt, err := newEngine(cc)
	if err != nil {
		_ = ln.Close()
		return err
	}

	shutdownTimeout := cc.Cfg.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.Close(flushCtx, cc.Log)
	}()

	if err := rt.coord.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	if reload {
		if _, statErr := os.Stat(cc.ConfigPath); statErr == nil {
			if err := rt.cfgStore.Watch(ctx); err != nil {
				cc.Log.Error("config watch disabled: %v", err)
			}
		} else {
			cc.Log.Debug("no config file at %s, reload disabled", cc.ConfigPath)
		}
	}

	handler := bwchi.NewRouter(bwchi.Options{
		Coordinator: rt.coord,
		Providers:   rt.cfgStore,
		Logger:      cc.Log.Zap(),
		APIKeys:     cc.Cfg.HTTP.APIKeys,
		Gatherer:    rt.registry,
		HTTPMetrics: metrics.NewHTTP(rt.registry),
	})

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	output.Info(cc.Fmt.Writer(), "serving balance API on http://%s", ln.Addr())
	cc.Log.Info("watch started on %s with %d provider(s)", ln.Addr(), len(rt.cfgStore.Endpoints()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return bwerr.Wrap(err, "serving balance API")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			cc.Log.Error("shutting down balance API: %v", err)
		}
		return nil
	})

	err = g.Wait()
	cc.Log.Info("watch stopped")
	return err
}
