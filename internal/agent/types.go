package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/router"
)

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
	RoleSpecialist  Role = "specialist"
	RoleMonitor     Role = "monitor"
	RoleResearcher  Role = "researcher"
	RoleExecutor    Role = "executor"
	RoleValidator   Role = "validator"
)

var roles = []Role{RoleCoordinator, RoleWorker, RoleSpecialist, RoleMonitor, RoleResearcher, RoleExecutor, RoleValidator}

func ParseRole(s string) (Role, error) {
	for _, r := range roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusProcessing Status = "processing"
	StatusWaiting    Status = "waiting"
	StatusError      Status = "error"
	StatusOffline    Status = "offline"
)

// Capability is a declared skill. Name is matched against task types.
type Capability struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	RequiredTools []string `json:"required_tools,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// Task is the unit of work handed to an agent body.
type Task struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Requirements []string       `json:"requirements,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type Result map[string]any

// Processor is the pluggable agent body.
type Processor interface {
	Process(ctx context.Context, task Task) (Result, error)
}

// MessageHandler is implemented by bodies that handle bus messages beyond
// the built-in capability query and task assignment handling.
type MessageHandler interface {
	HandleMessage(ctx context.Context, a *Agent, msg *router.Message) (map[string]any, error)
}

type HistoryEntry struct {
	Task      Task          `json:"task"`
	Result    Result        `json:"result"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

type Metrics struct {
	TasksCompleted      int           `json:"tasks_completed"`
	TasksFailed         int           `json:"tasks_failed"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	ErrorCount          int           `json:"error_count"`
}

// Snapshot is a point-in-time view of an agent for status reporting.
type Snapshot struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	Status       Status       `json:"status"`
	Capabilities []Capability `json:"capabilities"`
	Metrics      Metrics      `json:"metrics"`
	Reliability  float64      `json:"reliability"`
	Load         float64      `json:"load"`
	CurrentTask  string       `json:"current_task,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActive   time.Time    `json:"last_active"`
}
