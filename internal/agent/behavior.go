package agent

import (
	"context"
	"fmt"
	"sort"
)

type TaskHandler func(ctx context.Context, task Task) (Result, error)

// Behavior is a Processor that dispatches on task type to registered
// handlers.
type Behavior struct {
	handlers map[string]TaskHandler
}

func NewBehavior() *Behavior {
	return &Behavior{handlers: make(map[string]TaskHandler)}
}

// Handle registers h for taskType. Empty, nil and duplicate registrations
// are rejected.
func (b *Behavior) Handle(taskType string, h TaskHandler) error {
	if taskType == "" {
		return fmt.Errorf("register handler: empty task type")
	}
	if h == nil {
		return fmt.Errorf("register handler %s: nil handler", taskType)
	}
	if _, ok := b.handlers[taskType]; ok {
		return fmt.Errorf("register handler %s: already registered", taskType)
	}
	b.handlers[taskType] = h
	return nil
}

func (b *Behavior) Handles(taskType string) bool {
	_, ok := b.handlers[taskType]
	return ok
}

func (b *Behavior) Types() []string {
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (b *Behavior) Process(ctx context.Context, task Task) (Result, error) {
	h, ok := b.handlers[task.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTask, task.Type)
	}
	return h(ctx, task)
}
