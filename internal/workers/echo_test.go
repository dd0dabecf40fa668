package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/registry"
)

func TestEchoHandlesCapabilities(t *testing.T) {
	p, err := Echo(registry.Spec{
		Name:         "e1",
		Capabilities: []agent.Capability{{Name: "summarize"}, {Name: "translate"}},
	})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}

	res, err := p.Process(context.Background(), agent.Task{ID: "t1", Type: "summarize", Description: "doc"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res["description"] != "doc" || res["agent"] != "e1" {
		t.Errorf("unexpected result: %v", res)
	}

	if _, err := p.Process(context.Background(), agent.Task{Type: "deploy"}); !errors.Is(err, agent.ErrUnsupportedTask) {
		t.Errorf("expected ErrUnsupportedTask, got %v", err)
	}
}

func TestEchoFail(t *testing.T) {
	p, err := Echo(registry.Spec{
		Capabilities: []agent.Capability{{Name: "x"}},
		Settings:     map[string]any{"fail": true},
	})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if _, err := p.Process(context.Background(), agent.Task{Type: "x"}); !errors.Is(err, ErrInjected) {
		t.Errorf("expected ErrInjected, got %v", err)
	}
}

func TestEchoDelay(t *testing.T) {
	p, err := Echo(registry.Spec{
		Capabilities: []agent.Capability{{Name: "x"}},
		Settings:     map[string]any{"delay": "20ms"},
	})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}

	start := time.Now()
	if _, err := p.Process(context.Background(), agent.Task{Type: "x"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected delay to be honored")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Process(ctx, agent.Task{Type: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDurationSetting(t *testing.T) {
	tests := []struct {
		in      any
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{2, 2 * time.Second, false},
		{0.5, 500 * time.Millisecond, false},
		{"soon", 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		got, err := durationSetting(map[string]any{"delay": tt.in}, "delay")
		if (err != nil) != tt.wantErr {
			t.Errorf("%v: unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v: got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegister(t *testing.T) {
	reg := registry.New(nil, nil, config.AgentConfig{})
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	a, err := reg.CreateFromTemplate(context.Background(), "code_reviewer", registry.Params{})
	if err != nil {
		t.Fatalf("create from template: %v", err)
	}
	defer reg.Remove(a.ID())
	if !a.CanHandle("code_review", []string{"git"}) {
		t.Error("expected code_review capability from template")
	}
}
