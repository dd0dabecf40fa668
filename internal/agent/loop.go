package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/router"
)

// Start marks the agent idle and launches its message loop and heartbeat.
// Calling Start on a running agent is a no-op.
func (a *Agent) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running.Load() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.SetStatus(StatusIdle)
	a.running.Store(true)

	a.wg.Add(2)
	go a.run(runCtx)
	go a.beat(runCtx)

	slog.Info("agent started", "id", a.id, "name", a.name, "role", a.role)
}

// Stop marks the agent offline, stops its loops and drops any queued
// messages. Calling Stop on a stopped agent is a no-op.
func (a *Agent) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running.Load() {
		return
	}

	a.running.Store(false)
	a.SetStatus(StatusOffline)
	a.cancel()
	a.wg.Wait()

	dropped := 0
	for {
		select {
		case <-a.mailbox:
			dropped++
			continue
		default:
		}
		break
	}

	slog.Info("agent stopped", "id", a.id, "dropped", dropped)
}

func (a *Agent) Running() bool {
	return a.running.Load()
}

// Receive is the agent's bus handler. It only enqueues; replies are routed
// back from the message loop.
func (a *Agent) Receive(ctx context.Context, msg *router.Message) (map[string]any, error) {
	if !a.running.Load() {
		return nil, fmt.Errorf("agent %s: %w", a.id, ErrAgentOffline)
	}
	select {
	case a.mailbox <- msg:
		return nil, nil
	default:
		return nil, fmt.Errorf("agent %s mailbox is full", a.id)
	}
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.mailbox:
			a.handle(ctx, msg)
		}
	}
}

func (a *Agent) beat(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.touch()
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg *router.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message handler panicked", "agent", a.id, "message", msg.ID, "panic", r)
		}
	}()

	var (
		resp map[string]any
		err  error
	)
	if h, ok := a.processor.(MessageHandler); ok {
		resp, err = h.HandleMessage(ctx, a, msg)
	} else {
		resp, err = a.HandleDefault(ctx, msg)
	}
	if err != nil {
		slog.Error("message handling failed", "agent", a.id, "message", msg.ID, "type", msg.Type, "error", err)
		return
	}

	if resp == nil || msg.SenderID == "" || a.router == nil {
		return
	}
	if err := a.router.Route(ctx, msg.Reply(a.id, resp)); err != nil {
		slog.Warn("reply routing failed", "agent", a.id, "to", msg.SenderID, "error", err)
	}
}

// HandleDefault answers capability queries, runs task assignments and
// records liveness for status traffic. Bodies implementing MessageHandler
// can fall back to it.
func (a *Agent) HandleDefault(ctx context.Context, msg *router.Message) (map[string]any, error) {
	switch msg.Type {
	case router.CapabilityQuery:
		taskType, _ := msg.Content["task_type"].(string)
		return map[string]any{
			"agent_id":     a.id,
			"capabilities": a.Capabilities(),
			"can_handle":   taskType != "" && a.CanHandle(taskType, stringSlice(msg.Content["requirements"])),
		}, nil

	case router.TaskAssignment:
		task := taskFromContent(msg.Content)
		result, err := a.Assign(ctx, task)
		if err != nil {
			a.Reset()
			return map[string]any{"task_id": task.ID, "error": err.Error()}, nil
		}
		return map[string]any{"task_id": task.ID, "result": result}, nil

	case router.Request:
		return map[string]any{
			"agent_id": a.id,
			"status":   a.Status(),
			"load":     a.LoadFactor(),
		}, nil

	case router.Heartbeat, router.StatusUpdate, router.Coordination:
		a.touch()
		return nil, nil
	}

	slog.Debug("unhandled message", "agent", a.id, "type", msg.Type, "from", msg.SenderID)
	return nil, nil
}

func taskFromContent(c map[string]any) Task {
	t := Task{}
	t.ID, _ = c["task_id"].(string)
	t.Type, _ = c["task_type"].(string)
	t.Description, _ = c["description"].(string)
	t.Requirements = stringSlice(c["requirements"])
	t.Payload, _ = c["payload"].(map[string]any)
	return t
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
