package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/feed"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/service/collector"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/export"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
	"github.com/141JosephAlen/ec-bot/internal/service/schedule"
	"github.com/141JosephAlen/ec-bot/internal/upstream"
	"github.com/141JosephAlen/ec-bot/internal/ws"
	"github.com/141JosephAlen/ec-bot/pkg/jwt"
)

// Snapshots reads observations and reconstructed roadmaps.
type Snapshots interface {
	Observations(ctx context.Context) ([]domain.Millis, error)
	ObservationAt(ctx context.Context, at domain.Millis) (domain.Millis, bool, error)
	Snapshot(ctx context.Context, asOf domain.Millis, opts reconstruct.Options) ([]domain.Deliverable, error)
}

// Comparer builds change sets between observations.
type Comparer interface {
	Compare(ctx context.Context, start, end domain.Millis) (delta.ChangeSet, error)
}

// Scheduler builds schedule reports.
type Scheduler interface {
	Report(ctx context.Context, at domain.Millis) (schedule.Report, error)
}

// Exporter renders snapshots as feed documents.
type Exporter interface {
	Snapshot(ctx context.Context, at domain.Millis) (export.Snapshot, error)
}

// Puller records a new observation on demand.
type Puller interface {
	Pull(ctx context.Context) (collector.Report, error)
}

// Services are the engines the router exposes.
type Services struct {
	Snapshots Snapshots
	Compare   Comparer
	Schedule  Scheduler
	Export    Exporter
	Pull      Puller
	Hub       *ws.Hub
}

// Options tunes the router.
type Options struct {
	JWTSecret          string
	RateLimitPerMinute int
	DBHealth           func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	services  Services
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	metrics   *routeMetrics
	jwtSecret string
	readLimit int
	dbHealth  func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitPull      = 6
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, services Services, limiter RateLimiter, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "http"),
		services: services,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		metrics:   newRouteMetrics(),
		jwtSecret: strings.TrimSpace(opts.JWTSecret),
		readLimit: opts.RateLimitPerMinute,
		dbHealth:  opts.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.route("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.route("GET /observations", r.read("observations", r.handleObservations))
	r.route("GET /snapshot", r.read("snapshot", r.handleSnapshot))
	r.route("GET /compare", r.read("compare", r.handleCompare))
	r.route("GET /schedule", r.read("schedule", r.handleSchedule))
	r.route("GET /export", r.read("export", r.handleExport))
	r.route("POST /pull", r.requireScope(jwt.ScopePull, r.withRateLimit("pull", rateLimitPull, rateWindowDefault, r.handlePull)))
	r.route("GET /ws/changes", r.withRateLimit("ws", rateLimitWebsocket, rateWindowRealtime, r.handleChangesWS))
}

func (r *Router) route(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, h))
}

func (r *Router) read(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.withRateLimit(route, r.readLimit, rateWindowDefault, next)
}

// instant reads an optional date query parameter; absent means zero.
func instant(req *http.Request, name string) (domain.Millis, error) {
	raw := strings.TrimSpace(req.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	return feed.ParseDate(raw)
}

// instants reads several optional date parameters, writing a 400 on the
// first malformed one.
func instants(w http.ResponseWriter, req *http.Request, names ...string) ([]domain.Millis, bool) {
	out := make([]domain.Millis, len(names))
	for i, name := range names {
		at, err := instant(req, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
			return nil, false
		}
		out[i] = at
	}
	return out, true
}

// fail maps engine errors to HTTP statuses.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, delta.ErrInsufficientData), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidArgument), errors.Is(err, feed.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, collector.ErrBusy), errors.Is(err, ingest.ErrStaleObservation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, upstream.ErrIncompleteBatch):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleObservations(w http.ResponseWriter, req *http.Request) {
	times, err := r.services.Snapshots.Observations(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, t.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": out})
}

func (r *Router) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	at, ok := instants(w, req, "at")
	if !ok {
		return
	}
	observation, found, err := r.services.Snapshots.ObservationAt(req.Context(), at[0])
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if !found {
		r.fail(w, req, delta.ErrInsufficientData)
		return
	}
	opts := reconstruct.Options{Alphabetize: req.URL.Query().Get("sort") != "ledger"}
	deliverables, err := r.services.Snapshots.Snapshot(req.Context(), observation, opts)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observedAt":   observation.String(),
		"deliverables": deliverables,
	})
}

func (r *Router) handleCompare(w http.ResponseWriter, req *http.Request) {
	span, ok := instants(w, req, "start", "end")
	if !ok {
		return
	}
	cs, err := r.services.Compare.Compare(req.Context(), span[0], span[1])
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (r *Router) handleSchedule(w http.ResponseWriter, req *http.Request) {
	at, ok := instants(w, req, "at")
	if !ok {
		return
	}
	when := at[0]
	if when == 0 {
		when = domain.Now()
	}
	report, err := r.services.Schedule.Report(req.Context(), when)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	at, ok := instants(w, req, "at")
	if !ok {
		return
	}
	snap, err := r.services.Export.Snapshot(req.Context(), at[0])
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeFile(w, feed.FileName(snap.ObservedAt), snap.Deliverables)
}

func (r *Router) handlePull(w http.ResponseWriter, req *http.Request) {
	if r.services.Pull == nil {
		writeError(w, http.StatusServiceUnavailable, "collector not configured")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	report, err := r.services.Pull.Pull(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.logger.Info("pull triggered", "operator", info.Operator, "run_id", report.RunID, "status", report.Status)
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleChangesWS(w http.ResponseWriter, req *http.Request) {
	if r.services.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "change stream not configured")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.services.Hub.Register(collector.Topic, client)
	go client.Serve(func() { r.services.Hub.Unregister(collector.Topic, client) })
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["ledger"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["ledger"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.observe(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "operator", info.Operator)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
