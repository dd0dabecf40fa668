package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/registry"
)

// ErrInjected is returned by echo bodies configured with fail: true.
var ErrInjected = errors.New("injected failure")

// Register adds the built-in body types to reg.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterType("echo", Echo); err != nil {
		return fmt.Errorf("register echo: %w", err)
	}
	return nil
}

// Echo builds a body that answers every declared capability by returning
// the task back, after an optional delay. Settings:
//
//	delay  duration string or seconds (number)
//	fail   bool, every task fails with ErrInjected
func Echo(spec registry.Spec) (agent.Processor, error) {
	delay, err := durationSetting(spec.Settings, "delay")
	if err != nil {
		return nil, err
	}
	fail, _ := spec.Settings["fail"].(bool)

	handler := func(ctx context.Context, task agent.Task) (agent.Result, error) {
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		if fail {
			return nil, fmt.Errorf("%s: %w", task.Type, ErrInjected)
		}
		return agent.Result{
			"task_id":     task.ID,
			"type":        task.Type,
			"description": task.Description,
			"payload":     task.Payload,
			"agent":       spec.Name,
		}, nil
	}

	b := agent.NewBehavior()
	for _, c := range spec.Capabilities {
		if b.Handles(c.Name) {
			continue
		}
		if err := b.Handle(c.Name, handler); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func durationSetting(settings map[string]any, key string) (time.Duration, error) {
	v, ok := settings[key]
	if !ok {
		return 0, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("setting %s: unsupported value %v", key, v)
}
