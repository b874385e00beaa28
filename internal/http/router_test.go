package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository/memory"
	"github.com/141JosephAlen/ec-bot/internal/service/collector"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/export"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
	"github.com/141JosephAlen/ec-bot/internal/service/schedule"
	"github.com/141JosephAlen/ec-bot/internal/ws"
	"github.com/141JosephAlen/ec-bot/pkg/jwt"
)

const testSecret = "test-secret"

type stubPuller struct {
	report collector.Report
	err    error
	calls  int
}

func (s *stubPuller) Pull(context.Context) (collector.Report, error) {
	s.calls++
	return s.report, s.err
}

func day(d int) domain.Millis {
	return domain.MillisOf(time.Date(2021, time.June, d, 0, 0, 0, 0, time.UTC))
}

func roadmapItem(uuid, title string) domain.Deliverable {
	return domain.Deliverable{
		UUID:      uuid,
		Slug:      uuid,
		Title:     title,
		StartDate: day(1),
		EndDate:   day(30),
		Projects:  domain.Projects{domain.ProjectStarCitizen},
	}
}

type harness struct {
	router *Router
	puller *stubPuller
	hub    *ws.Hub
}

func newHarness(t *testing.T, opts Options, observations ...[]domain.Deliverable) harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	ledger := memory.New()
	policy := identity.DefaultPolicy()
	ingestEngine := ingest.New(ledger, policy, logger)
	for i, snapshot := range observations {
		if _, err := ingestEngine.Ingest(context.Background(), day(i+2), snapshot); err != nil {
			t.Fatalf("ingest observation %d: %v", i, err)
		}
	}
	snapshots := reconstruct.New(ledger, logger)
	model := delta.DefaultLoadModel()
	puller := &stubPuller{report: collector.Report{RunID: "run-1", Status: "no changes detected"}}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	router := NewRouter(logger, Services{
		Snapshots: snapshots,
		Compare:   delta.New(snapshots, policy, model, logger),
		Schedule:  schedule.New(snapshots, model, logger),
		Export:    export.New(snapshots, logger),
		Pull:      puller,
		Hub:       hub,
	}, NewMemoryRateLimiter(), opts)
	t.Cleanup(router.Close)
	return harness{router: router, puller: puller, hub: hub}
}

func (h harness) do(t *testing.T, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthzReportsLedger(t *testing.T) {
	h := newHarness(t, Options{})
	if rec := h.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := newHarness(t, Options{DBHealth: func(context.Context) error { return errors.New("unreachable") }})
	rec := down.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unreachable") {
		t.Fatalf("expected ledger error in body, got %s", rec.Body.String())
	}
}

func TestObservationsAndSnapshot(t *testing.T) {
	first := []domain.Deliverable{roadmapItem("d1", "Bombs")}
	second := []domain.Deliverable{roadmapItem("d1", "Bombs"), roadmapItem("d2", "Salvage")}
	h := newHarness(t, Options{}, first, second)

	rec := h.do(t, http.MethodGet, "/observations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	obs := decode[struct {
		Observations []string `json:"observations"`
	}](t, rec)
	if len(obs.Observations) != 2 || obs.Observations[0] != day(3).String() {
		t.Fatalf("expected newest first observations, got %v", obs.Observations)
	}

	rec = h.do(t, http.MethodGet, "/snapshot?at=20210602", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[struct {
		ObservedAt   string               `json:"observedAt"`
		Deliverables []domain.Deliverable `json:"deliverables"`
	}](t, rec)
	if snap.ObservedAt != day(2).String() || len(snap.Deliverables) != 1 {
		t.Fatalf("expected first observation with one deliverable, got %s with %d", snap.ObservedAt, len(snap.Deliverables))
	}

	if rec := h.do(t, http.MethodGet, "/snapshot?at=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/snapshot?at=2021-05-01", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first observation, got %d", rec.Code)
	}
}

func TestCompareReturnsChangeSet(t *testing.T) {
	first := []domain.Deliverable{roadmapItem("d1", "Bombs")}
	second := []domain.Deliverable{roadmapItem("d2", "Salvage")}
	h := newHarness(t, Options{}, first, second)

	rec := h.do(t, http.MethodGet, "/compare", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cs := decode[delta.ChangeSet](t, rec)
	if cs.Counters.Added != 1 || cs.Counters.Removed != 1 {
		t.Fatalf("expected one addition and one removal, got %+v", cs.Counters)
	}

	single := newHarness(t, Options{}, first)
	if rec := single.do(t, http.MethodGet, "/compare", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with a single observation, got %d", rec.Code)
	}
}

func TestExportSetsFileName(t *testing.T) {
	h := newHarness(t, Options{}, []domain.Deliverable{roadmapItem("d1", "Bombs & MOAB")})
	rec := h.do(t, http.MethodGet, "/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "2021-06-02.json") {
		t.Fatalf("expected dated file name, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"uuid":"d1"`) {
		t.Fatalf("expected exported deliverable, got %s", rec.Body.String())
	}
}

func TestScheduleWithoutObservations(t *testing.T) {
	h := newHarness(t, Options{})
	if rec := h.do(t, http.MethodGet, "/schedule?at=2021-06-10", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPullRequiresScopedToken(t *testing.T) {
	h := newHarness(t, Options{})

	if rec := h.do(t, http.MethodPost, "/pull", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	readOnly, err := jwt.GenerateToken("viewer", nil, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	if rec := h.do(t, http.MethodPost, "/pull", readOnly); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without pull scope, got %d", rec.Code)
	}

	token, err := jwt.GenerateToken("ops", []string{jwt.ScopePull}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	rec := h.do(t, http.MethodPost, "/pull", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[collector.Report](t, rec); got.RunID != "run-1" {
		t.Fatalf("expected run-1, got %+v", got)
	}

	h.puller.err = collector.ErrBusy
	if rec := h.do(t, http.MethodPost, "/pull", token); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/pull", token); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestReadEndpointsAreRateLimited(t *testing.T) {
	h := newHarness(t, Options{RateLimitPerMinute: 2})
	for i := 0; i < 2; i++ {
		if rec := h.do(t, http.MethodGet, "/observations", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 on request %d, got %d", i, rec.Code)
		}
	}
	rec := h.do(t, http.MethodGet, "/observations", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected no remaining requests, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestChangeStreamDeliversEvents(t *testing.T) {
	h := newHarness(t, Options{})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/changes", nil)
	if err != nil {
		t.Fatalf("dial change stream: %v", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.hub.Broadcast(collector.Topic, []byte(`{"type":"observation"}`))
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read change event: %v", err)
	}
	if string(payload) != `{"type":"observation"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}
