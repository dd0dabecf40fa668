package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/registry"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
	"github.com/mtzanidakis/swarmbot/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
)

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	reg   *registry.Registry
	coord *swarm.Coordinator
}

func newTestServer(t *testing.T, cfg config.WebConfig) *testEnv {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rtr := router.New(config.BusConfig{HistoryLimit: 100})
	reg := registry.New(rtr, s, config.AgentConfig{})
	if err := workers.Register(reg); err != nil {
		t.Fatalf("register workers: %v", err)
	}

	promReg := prometheus.NewRegistry()
	coord := swarm.New(swarm.Deps{
		Config: config.SwarmConfig{
			MaxRetries:        1,
			HealthInterval:    time.Hour,
			MaxCollaborators:  3,
			LoadBalancing:     true,
			PollTimeout:       10 * time.Millisecond,
			DependencyBackoff: 10 * time.Millisecond,
			NoAgentBackoff:    10 * time.Millisecond,
		},
		Registry:   reg,
		Router:     rtr,
		Store:      s,
		Collectors: swarm.MustNewCollectors(promReg),
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start coordinator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Stop(ctx)
	})

	srv := NewServer(s, nil, reg, rtr, coord, nil, cfg, "test")
	srv.gatherer = promReg

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, http: ts, reg: reg, coord: coord}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAgentEndpoints(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})

	var created agent.Snapshot
	code := env.do(t, http.MethodPost, "/api/agents", map[string]any{"template": "code_reviewer", "name": "rev"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created.Name != "rev" || created.Role != agent.RoleSpecialist {
		t.Errorf("unexpected agent %+v", created)
	}

	code = env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"type":         "echo",
		"role":         "worker",
		"capabilities": []map[string]any{{"name": "echo"}},
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("expected 201 for typed agent, got %d", code)
	}

	if code := env.do(t, http.MethodPost, "/api/agents", map[string]any{"template": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown template, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/agents", map[string]any{"type": "echo", "role": "boss"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/agents", map[string]any{}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 without template or type, got %d", code)
	}

	var list []agent.Snapshot
	env.do(t, http.MethodGet, "/api/agents", nil, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(list))
	}

	var detail map[string]json.RawMessage
	if code := env.do(t, http.MethodGet, "/api/agents/"+created.ID, nil, &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if _, ok := detail["history"]; !ok {
		t.Error("expected history in agent detail")
	}

	if code := env.do(t, http.MethodDelete, "/api/agents/"+created.ID, nil, nil); code != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/agents/"+created.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", code)
	}

	var templates []registry.Template
	env.do(t, http.MethodGet, "/api/templates", nil, &templates)
	if len(templates) != len(registry.DefaultTemplates()) {
		t.Errorf("expected default templates, got %d", len(templates))
	}
}

func TestTaskEndpoints(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})
	env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"type":         "echo",
		"capabilities": []map[string]any{{"name": "echo"}},
	}, nil)

	var submitted map[string]string
	code := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"type": "echo", "description": "hi"}, &submitted)
	if code != http.StatusAccepted || submitted["id"] == "" {
		t.Fatalf("expected 202 with id, got %d %v", code, submitted)
	}

	if code := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"description": "no type"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing type, got %d", code)
	}

	deadline := time.Now().Add(5 * time.Second)
	var task swarm.Task
	for time.Now().Before(deadline) {
		env.do(t, http.MethodGet, "/api/tasks/"+submitted["id"], nil, &task)
		if task.Status == swarm.TaskCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if task.Status != swarm.TaskCompleted {
		t.Fatalf("expected task to complete, got %s", task.Status)
	}

	var tasks []swarm.Task
	env.do(t, http.MethodGet, "/api/tasks?status=completed", nil, &tasks)
	if len(tasks) != 1 {
		t.Errorf("expected 1 completed task, got %d", len(tasks))
	}

	var runs []store.TaskRun
	env.do(t, http.MethodGet, "/api/runs", nil, &runs)
	if len(runs) != 1 || runs[0].ID != submitted["id"] {
		t.Errorf("expected stored run, got %+v", runs)
	}

	if code := env.do(t, http.MethodGet, "/api/tasks/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	cycle := []map[string]any{
		{"id": "a", "type": "echo", "dependencies": []string{"b"}},
		{"id": "b", "type": "echo", "dependencies": []string{"a"}},
	}
	if code := env.do(t, http.MethodPost, "/api/tasks/batch", cycle, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for cyclic batch, got %d", code)
	}

	var plan struct {
		Tiers [][]string `json:"tiers"`
	}
	batch := []map[string]any{
		{"id": "first", "type": "echo"},
		{"id": "second", "type": "echo", "dependencies": []string{"first"}},
	}
	if code := env.do(t, http.MethodPost, "/api/tasks/batch", batch, &plan); code != http.StatusAccepted {
		t.Fatalf("expected 202 for batch, got %d", code)
	}
	if len(plan.Tiers) != 2 {
		t.Errorf("expected 2 tiers, got %v", plan.Tiers)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	env := newTestServer(t, config.WebConfig{SubmitRate: 0.001, SubmitBurst: 2})

	for i := range 2 {
		if code := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"type": "echo"}, nil); code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, code)
		}
	}
	if code := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"type": "echo"}, nil); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", code)
	}
}

func TestStatusAndMessages(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})

	var status map[string]json.RawMessage
	if code := env.do(t, http.MethodGet, "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	for _, key := range []string{"swarm", "registry", "runs", "uptime", "version"} {
		if _, ok := status[key]; !ok {
			t.Errorf("expected %s in status", key)
		}
	}
	if string(status["nats"]) != `"disabled"` {
		t.Errorf("expected nats disabled, got %s", status["nats"])
	}

	msg := router.NewMessage(router.Heartbeat, "tester", swarm.CoordinatorID, nil)
	if err := env.srv.router.Route(context.Background(), msg); err != nil {
		t.Fatalf("route: %v", err)
	}
	var history []router.Message
	env.do(t, http.MethodGet, "/api/messages", nil, &history)
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("expected routed message in history, got %+v", history)
	}

	var schedules []any
	if code := env.do(t, http.MethodGet, "/api/schedules", nil, &schedules); code != http.StatusOK || len(schedules) != 0 {
		t.Errorf("expected empty schedules, got %d %v", code, schedules)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})
	env.do(t, http.MethodPost, "/api/tasks", map[string]any{"type": "echo"}, nil)

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `swarmbot_swarm_tasks_total{event="submitted"} 1`) {
		t.Errorf("expected submitted counter in metrics output:\n%s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})
	if code := env.do(t, http.MethodOptions, "/api/tasks", nil, nil); code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", code)
	}
}

func TestWebSocketFeed(t *testing.T) {
	env := newTestServer(t, config.WebConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.srv.hub.Broadcast(FeedEvent{
		Subject: natsbus.TopicEventsTask("t1"),
		Event:   natsbus.NewEvent("task_completed", map[string]any{"task_id": "t1"}),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got FeedEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "task_completed" || got.Subject != "events.task.t1" {
		t.Errorf("unexpected event %+v", got)
	}
}
