// Package chi serves the balance watch HTTP API: provider state, refresh
// triggers, a server-sent event stream of changes and Prometheus metrics.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/metrics"
	"github.com/mrz1836/balancewatch/internal/service/refresh"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// forceTimeout bounds how long a forced refresh request waits.
const forceTimeout = 2 * time.Minute

// Coordinator is the part of the refresh coordinator the API drives.
type Coordinator interface {
	States() []refresh.State
	ProviderState(name string) (refresh.State, bool)
	ProviderStatusViewItems(name string) []balance.StatusItem
	ProviderFieldDetail(name string) (string, bool)
	RequestRefresh(name string, reason refresh.Reason)
	NotifyRequestFinished(name string, outcome refresh.Outcome)
	ForceRefresh(ctx context.Context, name string) bool
	ForceRefreshAll(ctx context.Context) int
	Subscribe(fn func(name string)) func()
}

// Compile-time interface checks.
var (
	_ Coordinator = (*refresh.Coordinator)(nil)
	_ Providers   = (*config.Store)(nil)
)

// Providers looks up configured providers.
type Providers interface {
	GetProvider(name string) (config.ProviderConfig, bool)
}

// Options configures NewRouter.
type Options struct {
	Coordinator Coordinator
	Providers   Providers
	Logger      *zap.Logger
	APIKeys     []string
	// Gatherer serves /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// HTTPMetrics records request metrics when set.
	HTTPMetrics *metrics.HTTP
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server implements the API handlers.
type Server struct {
	coord     Coordinator
	providers Providers
	logger    *zap.Logger
	heartbeat time.Duration
}

// ProviderDetail is the response of GET /providers/{name}.
type ProviderDetail struct {
	State       refresh.State        `json:"state"`
	StatusItems []balance.StatusItem `json:"statusItems,omitempty"`
	FieldDetail string               `json:"fieldDetail,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter builds the API router.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	s := &Server{
		coord:     opts.Coordinator,
		providers: opts.Providers,
		logger:    logger,
		heartbeat: heartbeat,
	}

	r := gochi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}
	r.Use(BearerAuthMiddleware(opts.APIKeys))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, bwerr.ErrNotFound.Code, "no route for "+r.Method+" "+r.URL.Path)
	})

	r.Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/events", s.Events)
	r.Post("/refresh", s.RefreshAll)
	r.Route("/providers", func(r gochi.Router) {
		r.Get("/", s.ListProviders)
		r.Route("/{name}", func(r gochi.Router) {
			r.Get("/", s.GetProvider)
			r.Post("/refresh", s.RequestRefresh)
			r.Post("/force", s.ForceRefresh)
			r.Post("/request-finished", s.RequestFinished)
		})
	})
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListProviders handles GET /providers.
func (s *Server) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.States())
}

// GetProvider handles GET /providers/{name}.
func (s *Server) GetProvider(w http.ResponseWriter, r *http.Request) {
	name, ok := s.balanceProvider(w, r)
	if !ok {
		return
	}

	detail := ProviderDetail{State: refresh.State{Provider: name}}
	if st, ok := s.coord.ProviderState(name); ok {
		detail.State = st
	}
	detail.StatusItems = s.coord.ProviderStatusViewItems(name)
	detail.FieldDetail, _ = s.coord.ProviderFieldDetail(name)
	writeJSON(w, http.StatusOK, detail)
}

// RequestRefresh handles POST /providers/{name}/refresh?reason=manual|auto.
func (s *Server) RequestRefresh(w http.ResponseWriter, r *http.Request) {
	name, ok := s.balanceProvider(w, r)
	if !ok {
		return
	}

	reason := refresh.ReasonAuto
	switch q := r.URL.Query().Get("reason"); q {
	case "", string(refresh.ReasonAuto):
	case string(refresh.ReasonManual):
		reason = refresh.ReasonManual
	default:
		writeError(w, http.StatusBadRequest, bwerr.ErrInvalidInput.Code, "reason must be manual or auto")
		return
	}

	s.coord.RequestRefresh(name, reason)
	w.WriteHeader(http.StatusAccepted)
}

// RequestFinished handles POST /providers/{name}/request-finished?outcome=.
func (s *Server) RequestFinished(w http.ResponseWriter, r *http.Request) {
	name, ok := s.balanceProvider(w, r)
	if !ok {
		return
	}

	outcome := refresh.Outcome(r.URL.Query().Get("outcome"))
	switch outcome {
	case refresh.OutcomeSuccess, refresh.OutcomeError, refresh.OutcomeCancelled:
	case "":
		outcome = refresh.OutcomeSuccess
	default:
		writeError(w, http.StatusBadRequest, bwerr.ErrInvalidInput.Code, "outcome must be success, error or cancelled")
		return
	}

	s.coord.NotifyRequestFinished(name, outcome)
	w.WriteHeader(http.StatusAccepted)
}

// ForceRefresh handles POST /providers/{name}/force. It replies once the
// refresh completed.
func (s *Server) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	name, ok := s.balanceProvider(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), forceTimeout)
	defer cancel()
	if !s.coord.ForceRefresh(ctx, name) {
		writeError(w, http.StatusUnprocessableEntity, bwerr.ErrBalanceNotConfigured.Code, bwerr.ErrBalanceNotConfigured.Message)
		return
	}

	st, _ := s.coord.ProviderState(name)
	writeJSON(w, http.StatusOK, st)
}

// RefreshAll handles POST /refresh.
func (s *Server) RefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), forceTimeout)
	defer cancel()

	count := s.coord.ForceRefreshAll(ctx)
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": count})
}

// balanceProvider resolves {name} and writes the error reply when the
// provider is unknown or has no balance source.
func (s *Server) balanceProvider(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := gochi.URLParam(r, "name")
	p, ok := s.providers.GetProvider(name)
	if !ok {
		writeError(w, http.StatusNotFound, bwerr.ErrProviderNotFound.Code, "provider "+name+" not found")
		return "", false
	}
	if !p.HasBalance() {
		writeError(w, http.StatusUnprocessableEntity, bwerr.ErrBalanceNotConfigured.Code, bwerr.ErrBalanceNotConfigured.Message)
		return "", false
	}
	return name, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
