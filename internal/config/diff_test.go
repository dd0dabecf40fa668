package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo", Role: "specialist"},
		},
		Swarm: SwarmConfig{MaxRetries: 3},
		Schedules: map[string]ScheduleConfig{
			"nightly": {Schedule: "0 2 * * *", Type: "report"},
		},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
}

func TestDiff_TemplateAdded(t *testing.T) {
	old := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo"},
		},
	}
	new := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo"},
			"auditor":  {Type: "echo", Role: "validator"},
		},
	}
	d := Diff(old, new)
	if len(d.TemplatesAdded) != 1 || d.TemplatesAdded[0] != "auditor" {
		t.Errorf("expected auditor added, got %v", d.TemplatesAdded)
	}
	if len(d.TemplatesRemoved) != 0 {
		t.Errorf("expected no removals, got %v", d.TemplatesRemoved)
	}
	if len(d.TemplatesChanged) != 0 {
		t.Errorf("expected no changes, got %v", d.TemplatesChanged)
	}
}

func TestDiff_TemplateRemoved(t *testing.T) {
	old := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo"},
			"auditor":  {Type: "echo"},
		},
	}
	new := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo"},
		},
	}
	d := Diff(old, new)
	if len(d.TemplatesRemoved) != 1 || d.TemplatesRemoved[0] != "auditor" {
		t.Errorf("expected auditor removed, got %v", d.TemplatesRemoved)
	}
}

func TestDiff_TemplateCapabilitiesChanged(t *testing.T) {
	old := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo", Capabilities: []CapabilityConfig{{Name: "code_review", Confidence: 0.8}}},
		},
	}
	new := &Config{
		Templates: map[string]TemplateConfig{
			"reviewer": {Type: "echo", Capabilities: []CapabilityConfig{{Name: "code_review", Confidence: 0.9}}},
		},
	}
	d := Diff(old, new)
	if len(d.TemplatesChanged) != 1 || d.TemplatesChanged[0] != "reviewer" {
		t.Errorf("expected reviewer changed, got %v", d.TemplatesChanged)
	}
}

func TestDiff_SwarmChanged(t *testing.T) {
	old := &Config{Swarm: SwarmConfig{MaxRetries: 3, LoadBalancing: true}}
	new := &Config{Swarm: SwarmConfig{MaxRetries: 5, LoadBalancing: true}}
	d := Diff(old, new)
	if !d.SwarmChanged {
		t.Error("expected swarm changed")
	}
	if d.NewSwarm.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", d.NewSwarm.MaxRetries)
	}
}

func TestDiff_SchedulesChanged(t *testing.T) {
	old := &Config{Schedules: map[string]ScheduleConfig{
		"nightly": {Schedule: "0 2 * * *", Type: "report"},
	}}
	new := &Config{Schedules: map[string]ScheduleConfig{
		"nightly": {Schedule: "0 3 * * *", Type: "report"},
	}}
	d := Diff(old, new)
	if !d.SchedulesChanged {
		t.Error("expected schedules changed")
	}
	if d.NewSchedules["nightly"].Schedule != "0 3 * * *" {
		t.Errorf("unexpected new schedule %v", d.NewSchedules["nightly"])
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 60 * time.Second}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected scheduler changed")
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Web:   WebConfig{Port: 8080},
		Store: StoreConfig{Path: "a.db"},
	}
	new := &Config{
		Web:   WebConfig{Port: 9090},
		Store: StoreConfig{Path: "b.db"},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable warnings, got %v", d.NonReloadable)
	}
	if d.HasChanges() {
		t.Error("non-reloadable fields should not count as changes")
	}
}
