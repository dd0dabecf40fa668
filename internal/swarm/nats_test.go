package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
)

func TestServeOverNATS(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)

	ts := newTestSwarm(t, testConfig(), nil)
	ts.echoAgent(t, "echoer", nil)
	ts.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ts.coord.Serve(ctx, client) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	var submit SubmitReply
	waitFor(t, "submit handler", func() bool {
		err := client.RequestJSON(natsbus.TopicSubmitTask, SubmitRequest{Task: &TaskRequest{ID: "n1", Type: "echo"}}, &submit, 200*time.Millisecond)
		return err == nil
	})
	if submit.Error != "" || len(submit.IDs) != 1 || submit.IDs[0] != "n1" {
		t.Fatalf("unexpected submit reply %+v", submit)
	}

	var bad SubmitReply
	if err := client.RequestJSON(natsbus.TopicSubmitTask, SubmitRequest{}, &bad, time.Second); err != nil {
		t.Fatalf("request: %v", err)
	}
	if bad.Error == "" {
		t.Error("expected an error for an empty submission")
	}

	waitStatus(t, ts.coord, "n1", TaskCompleted)

	var reply TaskReply
	if err := client.RequestJSON(natsbus.TopicTaskStatus, map[string]string{"id": "n1"}, &reply, time.Second); err != nil {
		t.Fatalf("task status: %v", err)
	}
	if reply.Task == nil || reply.Task.Status != TaskCompleted {
		t.Errorf("unexpected task reply %+v", reply)
	}

	if err := client.RequestJSON(natsbus.TopicTaskStatus, map[string]string{"id": "missing"}, &reply, time.Second); err != nil {
		t.Fatalf("task status: %v", err)
	}
	if reply.Error == "" {
		t.Error("expected not found error")
	}

	var st Status
	if err := client.RequestJSON(natsbus.TopicSwarmStatus, struct{}{}, &st, time.Second); err != nil {
		t.Fatalf("swarm status: %v", err)
	}
	if !st.Running || st.CompletedTasks != 1 || len(st.Agents) != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}
