package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)

	a := &Agent{
		ID:           "a1",
		Name:         "Reviewer",
		Role:         "specialist",
		Type:         "echo",
		Template:     "code_reviewer",
		Capabilities: json.RawMessage(`[{"name":"code_review"}]`),
		Status:       "idle",
	}
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	got, err := s.GetAgent("a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if got.Name != "Reviewer" || got.Role != "specialist" || got.Template != "code_reviewer" {
		t.Errorf("unexpected agent %+v", got)
	}
	if string(got.Capabilities) != `[{"name":"code_review"}]` {
		t.Errorf("unexpected capabilities %s", got.Capabilities)
	}

	if err := s.UpdateAgentStatus("a1", "processing"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ = s.GetAgent("a1")
	if got.Status != "processing" {
		t.Errorf("expected processing, got %s", got.Status)
	}

	// Not found
	got, err = s.GetAgent("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent agent")
	}

	_ = s.SaveAgent(&Agent{ID: "a2", Name: "Worker", Role: "worker", Type: "echo"})
	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}

	if err := s.MarkAgentRemoved("a1"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}
	agents, _ = s.ListAgents()
	if len(agents) != 1 || agents[0].ID != "a2" {
		t.Errorf("expected only a2 live, got %+v", agents)
	}
	got, _ = s.GetAgent("a1")
	if got == nil || got.RemovedAt == nil || got.Status != "offline" {
		t.Errorf("expected removed row kept for audit, got %+v", got)
	}

	if err := s.MarkAllAgentsRemoved(); err != nil {
		t.Fatalf("mark all removed: %v", err)
	}
	agents, _ = s.ListAgents()
	if len(agents) != 0 {
		t.Errorf("expected no live agents, got %d", len(agents))
	}
}

func TestTaskRuns(t *testing.T) {
	s := newTestStore(t)

	created := time.Now().UTC().Add(-time.Minute)
	done := time.Now().UTC()
	run := &TaskRun{
		ID:             "t1",
		Type:           "analysis",
		Description:    "analyze data",
		Priority:       1,
		Status:         "completed",
		AssignedAgents: json.RawMessage(`["a1"]`),
		Result:         json.RawMessage(`{"ok":true}`),
		CreatedAt:      created,
		CompletedAt:    &done,
	}
	if err := s.SaveTaskRun(run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	failed := &TaskRun{
		ID:          "t2",
		Type:        "analysis",
		Priority:    4,
		Status:      "failed",
		Error:       "boom",
		RetryCount:  3,
		CreatedAt:   created,
		CompletedAt: &done,
	}
	if err := s.SaveTaskRun(failed); err != nil {
		t.Fatalf("save failed run: %v", err)
	}

	got, err := s.GetTaskRun("t1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil || got.Status != "completed" || string(got.Result) != `{"ok":true}` {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set")
	}

	got, _ = s.GetTaskRun("t2")
	if got.Error != "boom" || got.RetryCount != 3 || got.Result != nil {
		t.Errorf("unexpected failed run %+v", got)
	}

	runs, err := s.ListTaskRuns("failed", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "t2" {
		t.Errorf("expected only t2, got %+v", runs)
	}

	stats, err := s.GetRunStats()
	if err != nil {
		t.Fatalf("run stats: %v", err)
	}
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	var seen []string
	err = s.EachTaskRun(func(r TaskRun) error {
		seen = append(seen, r.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("each run: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 runs streamed, got %v", seen)
	}

	missing, err := s.GetTaskRun("nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing run, got %v, %v", missing, err)
	}
}

func TestBusMessages(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Minute)
	msgs := []BusMessage{
		{ID: "m1", Type: "request", SenderID: "a1", RecipientID: "a2", CorrelationID: "c1", Content: json.RawMessage(`{"q":1}`), CreatedAt: base},
		{ID: "m2", Type: "response", SenderID: "a2", RecipientID: "a1", CorrelationID: "c1", ReplyTo: "m1", CreatedAt: base.Add(time.Second)},
		{ID: "m3", Type: "heartbeat", SenderID: "a3", RecipientID: "a4", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range msgs {
		if err := s.SaveBusMessage(&msgs[i]); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
	// Duplicate ids are ignored.
	if err := s.SaveBusMessage(&msgs[0]); err != nil {
		t.Fatalf("save duplicate: %v", err)
	}

	got, err := s.GetMessages("a1", 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages for a1, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("expected chronological order, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].ReplyTo != "m1" || got[1].CorrelationID != "c1" {
		t.Errorf("unexpected response record %+v", got[1])
	}

	all, _ := s.GetMessages("", 2)
	if len(all) != 2 || all[1].ID != "m3" {
		t.Errorf("expected two most recent messages, got %+v", all)
	}

	stats, err := s.GetAgentMessageStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["a1"].MessageCount != 1 || stats["a2"].MessageCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestScheduledTasks(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	tasks := []ScheduledTask{
		{Name: "due", Schedule: "* * * * *", TaskType: "report", Spec: json.RawMessage(`{"type":"report"}`), Status: "active", NextRunAt: &past},
		{Name: "later", Schedule: "0 9 * * *", TaskType: "digest", Spec: json.RawMessage(`{"type":"digest"}`), Status: "active", NextRunAt: &future},
		{Name: "paused", Schedule: "* * * * *", TaskType: "report", Spec: json.RawMessage(`{}`), Status: "paused", NextRunAt: &past},
	}
	for i := range tasks {
		if err := s.SaveScheduledTask(&tasks[i]); err != nil {
			t.Fatalf("save scheduled task: %v", err)
		}
	}

	due, err := s.GetDueScheduledTasks(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].Name != "due" {
		t.Fatalf("expected only 'due', got %+v", due)
	}

	next := time.Now().Add(time.Minute)
	if err := s.UpdateScheduledRun("due", "task-1", "", &next); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, _ := s.GetScheduledTask("due")
	if got.LastTaskID != "task-1" || got.LastRunAt == nil {
		t.Errorf("expected run recorded, got %+v", got)
	}
	due, _ = s.GetDueScheduledTasks(time.Now())
	if len(due) != 0 {
		t.Errorf("expected nothing due after update, got %d", len(due))
	}

	if err := s.DeleteScheduledTasksNotIn([]string{"due"}); err != nil {
		t.Fatalf("delete not in: %v", err)
	}
	all, _ := s.ListScheduledTasks()
	if len(all) != 1 || all[0].Name != "due" {
		t.Errorf("expected only 'due' left, got %+v", all)
	}
}
