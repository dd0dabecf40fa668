package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmbot/internal/router"
)

const (
	defaultHeartbeat   = 30 * time.Second
	defaultMailboxSize = 100
)

type Options struct {
	ID                string
	Name              string
	Role              Role
	Capabilities      []Capability
	Processor         Processor
	Router            *router.Router
	HeartbeatInterval time.Duration
	MailboxSize       int

	// OnStatusChange is called outside the agent's lock after every
	// status transition.
	OnStatusChange func(a *Agent, from, to Status)
}

// Agent holds identity and state for one worker and executes at most one
// task at a time.
type Agent struct {
	id           string
	name         string
	role         Role
	capabilities []Capability
	processor    Processor
	router       *router.Router
	heartbeat    time.Duration
	onStatus     func(a *Agent, from, to Status)

	mu         sync.Mutex
	status     Status
	createdAt  time.Time
	lastActive time.Time
	current    *Task
	history    []HistoryEntry
	metrics    Metrics

	mailbox chan *router.Message
	runMu   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Agent, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("new agent: processor is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Name == "" {
		opts.Name = "agent-" + opts.ID[:min(8, len(opts.ID))]
	}
	if opts.Role == "" {
		opts.Role = RoleWorker
	}
	if _, err := ParseRole(string(opts.Role)); err != nil {
		return nil, fmt.Errorf("new agent %s: %w", opts.Name, err)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}

	handles, checkHandlers := opts.Processor.(interface{ Handles(string) bool })
	caps := make([]Capability, 0, len(opts.Capabilities))
	for _, c := range opts.Capabilities {
		if c.Name == "" {
			return nil, fmt.Errorf("new agent %s: capability without name", opts.Name)
		}
		if checkHandlers && !handles.Handles(c.Name) {
			return nil, fmt.Errorf("new agent %s: no handler for capability %s", opts.Name, c.Name)
		}
		c.Confidence = max(0, min(1, c.Confidence))
		c.RequiredTools = slices.Clone(c.RequiredTools)
		caps = append(caps, c)
	}

	now := time.Now()
	return &Agent{
		id:           opts.ID,
		name:         opts.Name,
		role:         opts.Role,
		capabilities: caps,
		processor:    opts.Processor,
		router:       opts.Router,
		heartbeat:    opts.HeartbeatInterval,
		onStatus:     opts.OnStatusChange,
		status:       StatusIdle,
		createdAt:    now,
		lastActive:   now,
		mailbox:      make(chan *router.Message, opts.MailboxSize),
	}, nil
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.name }
func (a *Agent) Role() Role   { return a.role }

func (a *Agent) Capabilities() []Capability {
	out := make([]Capability, len(a.capabilities))
	copy(out, a.capabilities)
	return out
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetStatus lets agent bodies signal busy or waiting states. During Assign
// the status is released to idle or error when the task returns.
func (a *Agent) SetStatus(s Status) {
	a.mu.Lock()
	from := a.status
	a.status = s
	a.mu.Unlock()
	a.notify(from, s)
}

// Reset moves an agent in error back to idle and reports whether it did.
func (a *Agent) Reset() bool {
	a.mu.Lock()
	if a.status != StatusError {
		a.mu.Unlock()
		return false
	}
	a.status = StatusIdle
	a.mu.Unlock()
	a.notify(StatusError, StatusIdle)
	return true
}

func (a *Agent) notify(from, to Status) {
	if from != to && a.onStatus != nil {
		a.onStatus(a, from, to)
	}
}

// Assign runs task on the agent body. It fails with a *BusyError unless the
// agent is idle. A processing error leaves the agent in error status and is
// returned unchanged.
func (a *Agent) Assign(ctx context.Context, task Task) (Result, error) {
	a.mu.Lock()
	if a.status != StatusIdle {
		st := a.status
		a.mu.Unlock()
		return nil, &BusyError{AgentID: a.id, Status: st}
	}
	a.status = StatusProcessing
	a.current = &task
	a.lastActive = time.Now()
	a.mu.Unlock()
	a.notify(StatusIdle, StatusProcessing)

	start := time.Now()
	result, err := a.process(ctx, task)
	elapsed := time.Since(start)

	a.mu.Lock()
	a.current = nil
	a.lastActive = time.Now()
	a.metrics.TotalProcessingTime += elapsed
	from := a.status
	next := StatusIdle
	if err != nil {
		a.metrics.TasksFailed++
		a.metrics.ErrorCount++
		next = StatusError
	} else {
		a.history = append(a.history, HistoryEntry{
			Task:      task,
			Result:    result,
			Timestamp: time.Now(),
			Duration:  elapsed,
		})
		a.metrics.TasksCompleted++
		n := time.Duration(a.metrics.TasksCompleted)
		a.metrics.AverageResponseTime = (a.metrics.AverageResponseTime*(n-1) + elapsed) / n
	}
	// A Stop during the task wins; statuses set by the body do not outlive it.
	if from == StatusOffline {
		next = StatusOffline
	}
	a.status = next
	a.mu.Unlock()
	a.notify(from, next)

	if err != nil {
		slog.Warn("agent task failed", "agent", a.id, "task", task.ID, "error", err)
		return nil, err
	}
	slog.Debug("agent task completed", "agent", a.id, "task", task.ID, "duration", elapsed)
	return result, nil
}

func (a *Agent) process(ctx context.Context, task Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.id, r)
		}
	}()
	return a.processor.Process(ctx, task)
}

// CanHandle reports whether a capability named taskType exists whose tools
// cover every entry in requirements.
func (a *Agent) CanHandle(taskType string, requirements []string) bool {
	for _, c := range a.capabilities {
		if c.Name != taskType {
			continue
		}
		covered := true
		for _, req := range requirements {
			if !slices.Contains(c.RequiredTools, req) {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}

func (a *Agent) LoadFactor() float64 {
	switch a.Status() {
	case StatusIdle:
		return 0.0
	case StatusBusy, StatusProcessing:
		return 1.0
	default:
		return 0.5
	}
}

func (a *Agent) ReliabilityScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reliabilityLocked()
}

func (a *Agent) reliabilityLocked() float64 {
	total := a.metrics.TasksCompleted + a.metrics.TasksFailed
	if total == 0 {
		return 1.0
	}
	success := float64(a.metrics.TasksCompleted) / float64(total)
	penalty := min(float64(a.metrics.ErrorCount)*0.1, 0.5)
	return max(0, success-penalty)
}

func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func (a *Agent) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

func (a *Agent) CurrentTask() *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	t := *a.current
	return &t
}

func (a *Agent) LastActive() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActive
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActive = time.Now()
	a.mu.Unlock()
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		ID:           a.id,
		Name:         a.name,
		Role:         a.role,
		Status:       a.status,
		Capabilities: a.Capabilities(),
		Metrics:      a.metrics,
		Reliability:  a.reliabilityLocked(),
		CreatedAt:    a.createdAt,
		LastActive:   a.lastActive,
	}
	switch a.status {
	case StatusIdle:
		s.Load = 0.0
	case StatusBusy, StatusProcessing:
		s.Load = 1.0
	default:
		s.Load = 0.5
	}
	if a.current != nil {
		s.CurrentTask = a.current.ID
	}
	return s
}
