package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
)

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

// API serves interactive queries over HTTP.
type API struct {
	registry *dataset.Registry
	pipeline *Pipeline
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewAPI creates the HTTP API over a pipeline.
func NewAPI(registry *dataset.Registry, pipeline *Pipeline, cfg APIConfig, logger *slog.Logger) *API {
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	return &API{
		registry: registry,
		pipeline: pipeline,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		logger:   logger,
	}
}

// Router builds the chi router with middleware, the query endpoint and the
// metrics endpoint.
func (a *API) Router(cfg APIConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))
	r.Use(a.rateLimit)

	r.Post("/query", a.handleQuery)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	entity, err := a.registry.Entity(req.Entity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := BuildQuery(&req, entity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = "http"
	}
	settings := query.NewInteractiveSettings(referrer)
	settings.DryRun = req.DryRun

	result, err := a.pipeline.Execute(r.Context(), q, settings)
	if err != nil {
		a.logger.Warn("query rejected", "entity", req.Entity, "referrer", referrer, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// statusFor maps the error taxonomy onto HTTP statuses: caller mistakes are
// 400s, store failures are 502s.
func statusFor(err error) int {
	var invalid *query.InvalidQueryError
	var untranslatable *query.UntranslatableQueryError
	var badCall *query.InvalidFunctionCallError
	var alias *query.DuplicateAliasError
	if errors.As(err, &invalid) || errors.As(err, &untranslatable) ||
		errors.As(err, &badCall) || errors.As(err, &alias) {
		return http.StatusBadRequest
	}
	var physical *clickhouse.PhysicalExecutionError
	if errors.As(err, &physical) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
