package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)

	return bus, client
}

func TestBusStartStop(t *testing.T) {
	bus, _ := newTestBus(t)

	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
	if bus.NumClients() < 1 {
		t.Errorf("expected at least one client, got %d", bus.NumClients())
	}
}

func TestPublishEvent(t *testing.T) {
	_, client := newTestBus(t)

	received := make(chan []byte, 1)
	_, err := client.Subscribe(TopicEventsTasks, func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	event := NewEvent("task_completed", map[string]any{"id": "t1"})
	if err := client.PublishJSON(TopicEventsTask("t1"), event); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "task_completed" {
			t.Errorf("expected task_completed, got %s", got.Type)
		}
		if got.Data["id"] != "t1" {
			t.Errorf("expected id t1, got %v", got.Data["id"])
		}
		if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
			t.Errorf("bad timestamp %q: %v", got.Timestamp, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRequestJSON(t *testing.T) {
	_, client := newTestBus(t)

	_, err := client.Subscribe(TopicSubmitTask, func(msg *nats.Msg) {
		var req map[string]string
		_ = json.Unmarshal(msg.Data, &req)
		_ = RespondJSON(msg, map[string]string{"id": "task-" + req["type"]})
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	var resp map[string]string
	if err := client.RequestJSON(TopicSubmitTask, map[string]string{"type": "analysis"}, &resp, 2*time.Second); err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp["id"] != "task-analysis" {
		t.Errorf("expected task-analysis, got %q", resp["id"])
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEventsTask("t1"); got != "events.task.t1" {
		t.Errorf("expected events.task.t1, got %s", got)
	}
	if got := TopicEventsAgent("a1"); got != "events.agent.a1" {
		t.Errorf("expected events.agent.a1, got %s", got)
	}
	if got := TopicEventsBus("heartbeat"); got != "events.bus.heartbeat" {
		t.Errorf("expected events.bus.heartbeat, got %s", got)
	}
}

func TestServerOptionsDefaults(t *testing.T) {
	opts := serverOptions(config.NATSConfig{})
	if opts.Host != "127.0.0.1" {
		t.Errorf("expected loopback host, got %q", opts.Host)
	}
	if opts.Port != natsserver.RANDOM_PORT {
		t.Errorf("expected random port, got %d", opts.Port)
	}

	opts = serverOptions(config.NATSConfig{Host: "0.0.0.0", Port: 4333})
	if opts.Host != "0.0.0.0" || opts.Port != 4333 {
		t.Errorf("explicit host/port not kept: %s:%d", opts.Host, opts.Port)
	}
}
