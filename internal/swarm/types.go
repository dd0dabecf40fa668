package swarm

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
)

var (
	ErrInvalidTask      = errors.New("invalid task")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrCoordinatorState = errors.New("coordinator not running")
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

const collaborativePrefix = "collaborative_"

// TaskRequest is what submitters hand to the coordinator.
type TaskRequest struct {
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Requirements []string       `json:"requirements,omitempty"`
	Priority     int            `json:"priority"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Task is the coordinator's record of a submitted unit of work. Lower
// Priority values are dispatched first.
type Task struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Description    string         `json:"description"`
	Requirements   []string       `json:"requirements,omitempty"`
	Priority       int            `json:"priority"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	AssignedAgents []string       `json:"assigned_agents,omitempty"`
	Status         TaskStatus     `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	RetryCount     int            `json:"retry_count"`
}

func (t *Task) Collaborative() bool {
	return strings.HasPrefix(t.Type, collaborativePrefix)
}

func (t *Task) clone() *Task {
	c := *t
	c.Requirements = slices.Clone(t.Requirements)
	c.Dependencies = slices.Clone(t.Dependencies)
	c.AssignedAgents = slices.Clone(t.AssignedAgents)
	c.Payload = maps.Clone(t.Payload)
	c.Result = maps.Clone(t.Result)
	return &c
}

func (t *Task) agentTask() agent.Task {
	return agent.Task{
		ID:           t.ID,
		Type:         t.Type,
		Description:  t.Description,
		Requirements: slices.Clone(t.Requirements),
		Payload:      maps.Clone(t.Payload),
	}
}

type AgentUsage struct {
	TasksAssigned  int           `json:"tasks_assigned"`
	TasksCompleted int           `json:"tasks_completed"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Metrics are the coordinator's running totals.
type Metrics struct {
	TasksSubmitted        int                   `json:"tasks_submitted"`
	TasksCompleted        int                   `json:"tasks_completed"`
	TasksFailed           int                   `json:"tasks_failed"`
	TasksRetried          int                   `json:"tasks_retried"`
	TasksDeferred         int                   `json:"tasks_deferred"`
	TimeoutsDetected      int                   `json:"timeouts_detected"`
	AverageCompletionTime time.Duration         `json:"average_completion_time"`
	AgentUtilization      map[string]AgentUsage `json:"agent_utilization"`
}

type AgentStatus struct {
	Name        string       `json:"name"`
	Role        agent.Role   `json:"role"`
	Status      agent.Status `json:"status"`
	Reliability float64      `json:"reliability"`
	Load        float64      `json:"load"`
}

// Status is a point-in-time snapshot for dashboards and CLI clients.
type Status struct {
	Running        bool                   `json:"running"`
	Agents         map[string]AgentStatus `json:"agents"`
	QueueSize      int                    `json:"queue_size"`
	ActiveTasks    int                    `json:"active_tasks"`
	CompletedTasks int                    `json:"completed_tasks"`
	Metrics        Metrics                `json:"metrics"`
	Config         config.SwarmConfig     `json:"config"`
}
