package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/models"
	"github.com/dirgogoo/mdap/pkg/pipeline"
	"github.com/dirgogoo/mdap/pkg/resource"
	"github.com/dirgogoo/mdap/pkg/track"
)

// testServer bundles a control server with the pipeline pieces tests
// poke at directly.
type testServer struct {
	srv       *Server
	tracker   *track.Tracker
	resources *resource.Manager
	machine   *pipeline.Machine
}

// newTestServer wires a control server over an idle pipeline.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	interrupts := pipeline.NewInterrupts()
	tracker := track.New(nil)
	notifier := pipeline.NewNotifier()
	machine := pipeline.NewMachine(tracker, notifier)
	resources := resource.NewManager(cfg.LLM.Model, cfg.Budgets, interrupts)
	orch := pipeline.NewOrchestrator(cfg, machine, interrupts, nil, tracker, resources)
	return &testServer{
		srv:       NewServer(orch, tracker, resources, notifier),
		tracker:   tracker,
		resources: resources,
		machine:   machine,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "IDLE", body["state"])
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "IDLE", body["state"])
	assert.Equal(t, false, body["paused"])
}

func TestPauseRejectedWhileIdle(t *testing.T) {
	ts := newTestServer(t)
	rec, body := doJSON(t, ts.srv.Handler(), http.MethodPost, "/api/v1/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "illegal state transition")
}

func TestCancelAccepted(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := doJSON(t, ts.srv.Handler(), http.MethodPost, "/api/v1/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.tracker.Append(models.Decision{Timestamp: time.Now(), Phase: "EXPANDING", StepID: "s1", SamplesUsed: 3})
	ts.tracker.Append(models.Decision{Timestamp: time.Now(), Phase: "GENERATING", StepID: "s2", SamplesUsed: 5})

	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/history?n=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 1)
	assert.Equal(t, "s2", decisions[0].(map[string]any)["step_id"])

	rec, _ = doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/history?n=oops", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionsByPhase(t *testing.T) {
	ts := newTestServer(t)
	ts.tracker.Append(models.Decision{Timestamp: time.Now(), Phase: "GENERATING", StepID: "s1"})

	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/decisions/GENERATING", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["decisions"].([]any), 1)
}

func TestExplainEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.tracker.Append(models.Decision{Timestamp: time.Now(), Phase: "EXPANDING", StepID: "s1", Rationale: "why"})

	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/explain/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "why", body["rationale"])

	rec, _ = doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/explain/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResourcesAndBudgetEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.resources.RecordCall(100, 50)

	rec, body := doJSON(t, ts.srv.Handler(), http.MethodGet, "/api/v1/resources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), body["input_tokens"])

	rec, body = doJSON(t, ts.srv.Handler(), http.MethodPost, "/api/v1/budget", `{"kind": "tokens", "value": 5000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	budgets := body["budgets"].(map[string]any)
	assert.Equal(t, float64(5000), budgets["max_tokens"])

	rec, _ = doJSON(t, ts.srv.Handler(), http.MethodPost, "/api/v1/budget", `{"kind": "widgets", "value": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.resources.RecordCall(10, 5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mdap_llm_calls_total")
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/api/v1/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	// The stream opens with a status snapshot.
	event, data := readSSE(t, reader)
	assert.Equal(t, "status", event)
	assert.Contains(t, data, `"IDLE"`)

	// An accepted transition is pushed without the client polling.
	_, err = ts.machine.Fire(pipeline.EventStart)
	require.NoError(t, err)

	event, data = readSSE(t, reader)
	assert.Equal(t, "state", event)
	assert.Contains(t, data, `"EXPANDING"`)
}

// readSSE reads one server-sent event (event name + data line).
func readSSE(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && event != "":
			return event, data
		}
	}
}
