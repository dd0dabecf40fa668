package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Channel is a named set of subscribers that receive broadcast copies.
type Channel struct {
	name        string
	mu          sync.RWMutex
	subscribers map[string]Handler
}

func newChannel(name string) *Channel {
	return &Channel{
		name:        name,
		subscribers: make(map[string]Handler),
	}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) Subscribe(agentID string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[agentID] = handler
}

func (c *Channel) Unsubscribe(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, agentID)
}

func (c *Channel) Subscribers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast delivers a copy of msg to every subscriber except the sender,
// concurrently. Each copy gets a fresh id and ReplyTo set to the original.
// Subscriber errors and panics are reported in the result map as
// {"error": "..."} rather than failing the broadcast.
func (c *Channel) Broadcast(ctx context.Context, msg *Message) map[string]map[string]any {
	results := make(map[string]map[string]any)
	if msg.Expired(time.Now()) {
		slog.Warn("dropping expired broadcast", "id", msg.ID, "channel", c.name)
		return results
	}

	c.mu.RLock()
	targets := make(map[string]Handler, len(c.subscribers))
	for id, h := range c.subscribers {
		if id != msg.SenderID {
			targets[id] = h
		}
	}
	c.mu.RUnlock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for id, h := range targets {
		wg.Add(1)
		go func(id string, h Handler) {
			defer wg.Done()
			resp, err := invoke(ctx, h, msg.copyFor(id))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("broadcast delivery failed", "channel", c.name, "agent", id, "error", err)
				results[id] = map[string]any{"error": err.Error()}
				return
			}
			results[id] = resp
		}(id, h)
	}
	wg.Wait()

	return results
}

func invoke(ctx context.Context, h Handler, msg *Message) (resp map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
