package router

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) PublishJSON(topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func echoHandler(ctx context.Context, msg *Message) (map[string]any, error) {
	return map[string]any{"echo": msg.Content["text"]}, nil
}

func TestDefaultChannels(t *testing.T) {
	r := New(config.BusConfig{})
	got := r.Channels()
	want := []string{ChannelCoordination, ChannelEmergency, ChannelStatus}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channel %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRouteDelivers(t *testing.T) {
	r := New(config.BusConfig{})
	var called atomic.Int32
	r.Register("a1", func(ctx context.Context, msg *Message) (map[string]any, error) {
		called.Add(1)
		return nil, nil
	})

	if err := r.Route(context.Background(), NewMessage(Request, "x", "a1", nil)); err != nil {
		t.Fatalf("route: %v", err)
	}
	if called.Load() != 1 {
		t.Errorf("expected handler called once, got %d", called.Load())
	}
	if len(r.History(0)) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(r.History(0)))
	}
}

func TestRouteUnknownRecipient(t *testing.T) {
	r := New(config.BusConfig{})
	if err := r.Route(context.Background(), NewMessage(Request, "x", "nobody", nil)); err != nil {
		t.Fatalf("expected missing handler to be dropped silently, got %v", err)
	}
	if len(r.History(0)) != 1 {
		t.Error("expected dropped message in history")
	}
}

func TestRouteHandlerError(t *testing.T) {
	r := New(config.BusConfig{})
	boom := errors.New("boom")
	r.Register("a1", func(context.Context, *Message) (map[string]any, error) {
		return nil, boom
	})

	err := r.Route(context.Background(), NewMessage(Request, "x", "a1", nil))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestRouteExpired(t *testing.T) {
	r := New(config.BusConfig{})
	var called atomic.Bool
	r.Register("a1", func(context.Context, *Message) (map[string]any, error) {
		called.Store(true)
		return nil, nil
	})

	msg := NewMessage(Request, "x", "a1", nil)
	msg.TTL = time.Second
	msg.Timestamp = time.Now().Add(-2 * time.Second)

	if err := r.Route(context.Background(), msg); err != nil {
		t.Fatalf("route: %v", err)
	}
	if called.Load() {
		t.Error("expired message must not reach the handler")
	}
	h := r.History(0)
	if len(h) != 1 || h[0].ID != msg.ID {
		t.Errorf("expected expired message in history, got %v", h)
	}
}

func TestHistoryLimit(t *testing.T) {
	r := New(config.BusConfig{HistoryLimit: 3})
	var last string
	for range 5 {
		m := NewMessage(Heartbeat, "x", "nobody", nil)
		last = m.ID
		_ = r.Route(context.Background(), m)
	}

	h := r.History(0)
	if len(h) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(h))
	}
	if h[2].ID != last {
		t.Error("expected newest message last")
	}
	if got := r.History(2); len(got) != 2 || got[1].ID != last {
		t.Errorf("expected last 2 messages, got %d", len(got))
	}
}

func TestSendAndWait(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("a1", echoHandler)

	msg := NewMessage(Request, "x", "a1", map[string]any{"text": "hello"})
	resp, ok := r.SendAndWait(context.Background(), msg, time.Second)
	if !ok {
		t.Fatal("expected response")
	}
	if resp["echo"] != "hello" {
		t.Errorf("unexpected response: %v", resp)
	}
	if msg.CorrelationID == "" {
		t.Error("expected generated correlation id")
	}
	if r.PendingWaiters() != 0 {
		t.Errorf("expected waiter removed, got %d pending", r.PendingWaiters())
	}
}

func TestSendAndWaitTimeoutCleansUp(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("silent", func(context.Context, *Message) (map[string]any, error) {
		return nil, nil
	})

	for range 10 {
		_, ok := r.SendAndWait(context.Background(), NewMessage(Request, "x", "silent", nil), 10*time.Millisecond)
		if ok {
			t.Fatal("expected timeout")
		}
	}
	if r.PendingWaiters() != 0 {
		t.Errorf("expected no leaked waiters, got %d", r.PendingWaiters())
	}
}

func TestSendAndWaitAsyncReply(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("async", func(ctx context.Context, msg *Message) (map[string]any, error) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = r.Route(context.Background(), msg.Reply("async", map[string]any{"late": true}))
		}()
		return nil, nil
	})

	resp, ok := r.SendAndWait(context.Background(), NewMessage(Request, "caller", "async", nil), time.Second)
	if !ok || resp["late"] != true {
		t.Fatalf("expected async reply, got %v (ok=%v)", resp, ok)
	}
	if r.PendingWaiters() != 0 {
		t.Errorf("expected waiter removed, got %d", r.PendingWaiters())
	}
}

func TestSendAndWaitContextCancel(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("silent", func(context.Context, *Message) (map[string]any, error) { return nil, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := r.SendAndWait(ctx, NewMessage(Request, "x", "silent", nil), time.Minute); ok {
		t.Fatal("expected cancelled wait to fail")
	}
	if r.PendingWaiters() != 0 {
		t.Errorf("expected waiter removed, got %d", r.PendingWaiters())
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("a", echoHandler)
	r.Register("b", echoHandler)
	r.Register("c", func(context.Context, *Message) (map[string]any, error) {
		return nil, errors.New("c failed")
	})
	r.Register("d", func(context.Context, *Message) (map[string]any, error) {
		panic("d panicked")
	})
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := r.Subscribe(ChannelCoordination, id); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
	}

	msg := NewMessage(Coordination, "d", "", map[string]any{"text": "sync"})
	results, err := r.Broadcast(context.Background(), ChannelCoordination, msg)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results excluding the sender, got %d: %v", len(results), results)
	}
	if _, ok := results["d"]; ok {
		t.Error("sender must not receive its own broadcast")
	}
	for _, id := range []string{"a", "b"} {
		if results[id]["echo"] != "sync" {
			t.Errorf("%s: unexpected result %v", id, results[id])
		}
	}
	if results["c"]["error"] != "c failed" {
		t.Errorf("expected captured error for c, got %v", results["c"])
	}
}

func TestBroadcastCopies(t *testing.T) {
	r := New(config.BusConfig{})
	var (
		mu   sync.Mutex
		seen []*Message
	)
	capture := func(ctx context.Context, msg *Message) (map[string]any, error) {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
		return nil, nil
	}
	r.Register("a", capture)
	r.Register("b", capture)
	_ = r.Subscribe(ChannelStatus, "a")
	_ = r.Subscribe(ChannelStatus, "b")

	msg := NewMessage(StatusUpdate, "x", ChannelRecipient(ChannelStatus), nil)
	if err := r.Route(context.Background(), msg); err != nil {
		t.Fatalf("route: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(seen))
	}
	for _, m := range seen {
		if m.ID == msg.ID {
			t.Error("expected a fresh id on each copy")
		}
		if m.ReplyTo != msg.ID {
			t.Errorf("expected reply_to %s, got %s", msg.ID, m.ReplyTo)
		}
	}
}

func TestBroadcastUnknownChannel(t *testing.T) {
	r := New(config.BusConfig{})
	if _, err := r.Broadcast(context.Background(), "nope", NewMessage(Coordination, "x", "", nil)); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestUnregisterRemovesSubscriptions(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("a", echoHandler)
	_ = r.Subscribe(ChannelCoordination, "a")
	ch := r.CreateChannel("team")
	_ = r.Subscribe("team", "a")

	r.Unregister("a")

	if r.Registered("a") {
		t.Error("expected handler removed")
	}
	if len(r.Channel(ChannelCoordination).Subscribers()) != 0 {
		t.Error("expected coordination subscription removed")
	}
	if len(ch.Subscribers()) != 0 {
		t.Error("expected custom channel subscription removed")
	}
}

func TestSubscribeErrors(t *testing.T) {
	r := New(config.BusConfig{})
	if err := r.Subscribe(ChannelStatus, "ghost"); err == nil {
		t.Error("expected error for unregistered agent")
	}
	r.Register("a", echoHandler)
	if err := r.Subscribe("missing", "a"); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New(config.BusConfig{})
	r.Register("a", echoHandler)
	if err := r.Subscribe(ChannelStatus, "a"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Unsubscribe(ChannelStatus, "a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := len(r.Channel(ChannelStatus).Subscribers()); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
	if err := r.Unsubscribe(ChannelStatus, "a"); err != nil {
		t.Errorf("second unsubscribe: %v", err)
	}
	if err := r.Unsubscribe("missing", "a"); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestRecordPublishesAndArchives(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "bus.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	pub := &recordingPublisher{}
	r := New(config.BusConfig{})
	r.SetPublisher(pub)
	r.SetStore(s)
	r.Register("a1", echoHandler)

	msg := NewMessage(Request, "x", "a1", map[string]any{"text": "hi"})
	if err := r.Route(context.Background(), msg); err != nil {
		t.Fatalf("route: %v", err)
	}

	pub.mu.Lock()
	topics := append([]string(nil), pub.topics...)
	pub.mu.Unlock()
	if len(topics) != 1 || topics[0] != "events.bus.request" {
		t.Errorf("unexpected published topics: %v", topics)
	}

	msgs, err := s.GetMessages("a1", 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("expected archived message, got %+v", msgs)
	}
}
