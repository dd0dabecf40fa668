package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/nats-io/nats.go"
)

// SubmitRequest is the body accepted on the submit topic. Either a single
// task or a batch is set.
type SubmitRequest struct {
	Task  *TaskRequest  `json:"task,omitempty"`
	Batch []TaskRequest `json:"batch,omitempty"`
}

type SubmitReply struct {
	IDs   []string   `json:"ids,omitempty"`
	Tiers [][]string `json:"tiers,omitempty"`
	Error string     `json:"error,omitempty"`
}

type TaskReply struct {
	Task  *Task  `json:"task,omitempty"`
	Error string `json:"error,omitempty"`
}

// Serve answers submission and status requests over NATS until ctx is done.
func (c *Coordinator) Serve(ctx context.Context, client *natsbus.Client) error {
	handlers := map[string]func(*nats.Msg) any{
		natsbus.TopicSubmitTask: func(m *nats.Msg) any {
			return c.handleSubmit(ctx, m.Data)
		},
		natsbus.TopicTaskStatus: func(m *nats.Msg) any {
			var req struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(m.Data, &req); err != nil {
				return TaskReply{Error: "invalid request: " + err.Error()}
			}
			t, ok := c.Task(req.ID)
			if !ok {
				return TaskReply{Error: fmt.Sprintf("task %s not found", req.ID)}
			}
			return TaskReply{Task: t}
		},
		natsbus.TopicSwarmStatus: func(*nats.Msg) any {
			return c.Status()
		},
	}

	subs := make([]*nats.Subscription, 0, len(handlers))
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	for topic, h := range handlers {
		sub, err := client.Subscribe(topic, func(m *nats.Msg) {
			if err := natsbus.RespondJSON(m, h(m)); err != nil {
				slog.Warn("nats reply failed", "topic", topic, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	slog.Info("serving swarm requests over nats", "topics", len(subs))
	<-ctx.Done()
	return nil
}

func (c *Coordinator) handleSubmit(ctx context.Context, data []byte) SubmitReply {
	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SubmitReply{Error: "invalid request: " + err.Error()}
	}

	switch {
	case req.Task != nil:
		id, err := c.Submit(ctx, *req.Task)
		if err != nil {
			return SubmitReply{Error: err.Error()}
		}
		return SubmitReply{IDs: []string{id}}
	case len(req.Batch) > 0:
		plan, err := c.SubmitBatch(ctx, req.Batch)
		if err != nil {
			return SubmitReply{Error: err.Error()}
		}
		var ids []string
		for _, tier := range plan.Tiers {
			ids = append(ids, tier...)
		}
		return SubmitReply{IDs: ids, Tiers: plan.Tiers}
	}
	return SubmitReply{Error: "task or batch is required"}
}
