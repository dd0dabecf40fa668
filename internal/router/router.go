package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/store"
)

// Handler processes a delivered message. A non-nil response resolves any
// caller waiting on the message's correlation id.
type Handler func(ctx context.Context, msg *Message) (map[string]any, error)

// Publisher mirrors routed messages to an external event stream.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Router delivers messages between registered agents, keeps a bounded
// history and tracks callers waiting on correlated responses.
type Router struct {
	mu           sync.Mutex
	handlers     map[string]Handler
	channels     map[string]*Channel
	waiters      map[string]chan map[string]any
	history      []*Message
	historyLimit int

	publisher Publisher
	store     *store.Store
}

func New(cfg config.BusConfig) *Router {
	r := &Router{
		handlers:     make(map[string]Handler),
		channels:     make(map[string]*Channel),
		waiters:      make(map[string]chan map[string]any),
		historyLimit: cfg.HistoryLimit,
	}
	for _, name := range []string{ChannelCoordination, ChannelStatus, ChannelEmergency} {
		r.channels[name] = newChannel(name)
	}
	return r
}

func (r *Router) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// SetStore enables archiving of every routed message.
func (r *Router) SetStore(s *store.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = s
}

func (r *Router) Register(agentID string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agentID] = handler
	slog.Debug("agent registered on bus", "agent", agentID)
}

// Unregister removes the agent's handler and its channel subscriptions.
func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	delete(r.handlers, agentID)
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Unsubscribe(agentID)
	}
	slog.Debug("agent unregistered from bus", "agent", agentID)
}

func (r *Router) Registered(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[agentID]
	return ok
}

// Route delivers msg to its recipient. Every message is recorded in the
// history, including ones dropped for expiry or a missing handler.
func (r *Router) Route(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("route: nil message")
	}
	r.record(msg)

	if msg.Expired(time.Now()) {
		slog.Warn("dropping expired message", "id", msg.ID, "type", msg.Type, "recipient", msg.RecipientID)
		return nil
	}

	if name, ok := ChannelName(msg.RecipientID); ok {
		ch := r.Channel(name)
		if ch == nil {
			slog.Warn("no such channel", "channel", name, "id", msg.ID)
			return nil
		}
		ch.Broadcast(ctx, msg)
		return nil
	}

	resolved := false
	if msg.Type == Response && msg.CorrelationID != "" {
		resolved = r.resolve(msg.CorrelationID, msg.Content)
	}

	r.mu.Lock()
	handler, ok := r.handlers[msg.RecipientID]
	r.mu.Unlock()
	if !ok {
		if !resolved {
			slog.Warn("no handler for recipient", "recipient", msg.RecipientID, "id", msg.ID, "type", msg.Type)
		}
		return nil
	}

	resp, err := invoke(ctx, handler, msg)
	if err != nil {
		slog.Error("message handler failed", "recipient", msg.RecipientID, "id", msg.ID, "error", err)
		return fmt.Errorf("deliver message %s: %w", msg.ID, err)
	}
	if resp != nil && msg.CorrelationID != "" {
		r.resolve(msg.CorrelationID, resp)
	}
	return nil
}

// SendAndWait routes msg and blocks until a correlated response arrives,
// the timeout elapses or ctx is done. It assigns a correlation id when the
// message has none. The pending waiter is always removed on return.
func (r *Router) SendAndWait(ctx context.Context, msg *Message, timeout time.Duration) (map[string]any, bool) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	id := msg.CorrelationID

	ch := make(chan map[string]any, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
	}()

	if err := r.Route(ctx, msg); err != nil {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, true
	case <-timer.C:
		slog.Debug("response timed out", "correlation_id", id, "recipient", msg.RecipientID)
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (r *Router) resolve(correlationID string, content map[string]any) bool {
	r.mu.Lock()
	ch, ok := r.waiters[correlationID]
	if ok {
		delete(r.waiters, correlationID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- content
	return true
}

// PendingWaiters returns the number of callers still waiting on a response.
func (r *Router) PendingWaiters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Channel returns the named channel, or nil.
func (r *Router) Channel(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[name]
}

// CreateChannel returns the named channel, creating it if needed.
func (r *Router) CreateChannel(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		ch = newChannel(name)
		r.channels[name] = ch
	}
	return ch
}

func (r *Router) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe adds the agent's registered handler to a channel.
func (r *Router) Subscribe(channel, agentID string) error {
	r.mu.Lock()
	handler, ok := r.handlers[agentID]
	ch := r.channels[channel]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("subscribe %s: agent %s is not registered", channel, agentID)
	}
	if ch == nil {
		return fmt.Errorf("subscribe %s: no such channel", channel)
	}
	ch.Subscribe(agentID, handler)
	return nil
}

// Unsubscribe removes the agent from a channel. Leaving a channel the agent
// never joined is not an error.
func (r *Router) Unsubscribe(channel, agentID string) error {
	ch := r.Channel(channel)
	if ch == nil {
		return fmt.Errorf("unsubscribe %s: no such channel", channel)
	}
	ch.Unsubscribe(agentID)
	return nil
}

// Broadcast records msg and fans it out on the named channel.
func (r *Router) Broadcast(ctx context.Context, channel string, msg *Message) (map[string]map[string]any, error) {
	ch := r.Channel(channel)
	if ch == nil {
		return nil, fmt.Errorf("broadcast: no such channel %q", channel)
	}
	if msg.RecipientID == "" {
		msg.RecipientID = ChannelRecipient(channel)
	}
	r.record(msg)
	return ch.Broadcast(ctx, msg), nil
}

// History returns up to limit of the most recent messages, oldest first.
// A limit of zero returns everything retained.
func (r *Router) History(limit int) []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && len(r.history) > limit {
		start = len(r.history) - limit
	}
	out := make([]*Message, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}

func (r *Router) record(msg *Message) {
	r.mu.Lock()
	r.history = append(r.history, msg)
	if r.historyLimit > 0 && len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}
	publisher, s := r.publisher, r.store
	r.mu.Unlock()

	if publisher != nil {
		event := natsbus.NewEvent("bus_message", map[string]any{
			"id":             msg.ID,
			"type":           msg.Type,
			"sender_id":      msg.SenderID,
			"recipient_id":   msg.RecipientID,
			"correlation_id": msg.CorrelationID,
		})
		if err := publisher.PublishJSON(natsbus.TopicEventsBus(string(msg.Type)), event); err != nil {
			slog.Debug("publish bus event failed", "id", msg.ID, "error", err)
		}
	}

	if s != nil {
		content, _ := json.Marshal(msg.Content)
		err := s.SaveBusMessage(&store.BusMessage{
			ID:            msg.ID,
			Type:          string(msg.Type),
			SenderID:      msg.SenderID,
			RecipientID:   msg.RecipientID,
			CorrelationID: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			Content:       content,
			CreatedAt:     msg.Timestamp,
		})
		if err != nil {
			slog.Warn("archive message failed", "id", msg.ID, "error", err)
		}
	}
}
