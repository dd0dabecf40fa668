package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
)

const (
	statusActive    = "active"
	statusCompleted = "completed"
)

// Submitter accepts tasks fired by a schedule.
type Submitter interface {
	Submit(ctx context.Context, req swarm.TaskRequest) (string, error)
}

// Scheduler fires recurring task submissions from the schedules table.
type Scheduler struct {
	store     *store.Store
	submitter Submitter
	publisher router.Publisher

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, sub Submitter, pub router.Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submitter:    sub,
		publisher:    pub,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Sync makes the schedules table match the config. Entries whose schedule
// is unchanged keep their next run time.
func (s *Scheduler) Sync(schedules map[string]config.ScheduleConfig) error {
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	slices.Sort(names)

	now := time.Now()
	for _, name := range names {
		sc := schedules[name]
		if sc.Type == "" {
			return fmt.Errorf("schedule %s: type is required", name)
		}
		normalized, err := Normalize(sc.Schedule)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		spec, err := json.Marshal(swarm.TaskRequest{
			Type:         sc.Type,
			Description:  sc.Description,
			Requirements: sc.Requirements,
			Priority:     sc.Priority,
			Payload:      sc.Payload,
		})
		if err != nil {
			return fmt.Errorf("encode schedule %s: %w", name, err)
		}

		existing, err := s.store.GetScheduledTask(name)
		if err != nil {
			return err
		}
		next := Next(normalized, now)
		status := statusActive
		if existing != nil && existing.Schedule == normalized {
			next = existing.NextRunAt
			status = existing.Status
		}
		if next == nil {
			status = statusCompleted
		}

		err = s.store.SaveScheduledTask(&store.ScheduledTask{
			Name:      name,
			Schedule:  normalized,
			TaskType:  sc.Type,
			Spec:      spec,
			Status:    status,
			NextRunAt: next,
		})
		if err != nil {
			return err
		}
	}

	if err := s.store.DeleteScheduledTasksNotIn(names); err != nil {
		return fmt.Errorf("prune schedules: %w", err)
	}
	slog.Info("schedules synced", "count", len(names))
	return nil
}

// UpdateConfig changes the poll interval and resets the running loop's
// ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

// Start polls for due schedules until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			interval = s.interval()
			ticker.Reset(interval)
			slog.Info("scheduler config reloaded", "poll_interval", interval)
		case <-ticker.C:
			s.RunDue(ctx, time.Now())
		}
	}
}

// RunDue submits every active schedule due at now and returns how many
// fired.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	due, err := s.store.GetDueScheduledTasks(now)
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return 0
	}
	for _, st := range due {
		s.fire(ctx, st, now)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, st store.ScheduledTask, now time.Time) {
	var req swarm.TaskRequest
	taskID, lastError := "", ""
	err := json.Unmarshal(st.Spec, &req)
	if err == nil {
		taskID, err = s.submitter.Submit(ctx, req)
	}
	if err != nil {
		lastError = err.Error()
		slog.Error("scheduled submission failed", "schedule", st.Name, "error", err)
	} else {
		slog.Info("scheduled task submitted", "schedule", st.Name, "task_id", taskID, "type", req.Type)
	}

	next := Next(st.Schedule, now)
	if err := s.store.UpdateScheduledRun(st.Name, taskID, lastError, next); err != nil {
		slog.Error("failed to record schedule run", "schedule", st.Name, "error", err)
	}
	if next == nil {
		slog.Info("schedule exhausted", "schedule", st.Name)
		if err := s.store.UpdateScheduledStatus(st.Name, statusCompleted); err != nil {
			slog.Error("failed to complete schedule", "schedule", st.Name, "error", err)
		}
	}

	if s.publisher == nil {
		return
	}
	data := map[string]any{
		"name":    st.Name,
		"task_id": taskID,
	}
	if lastError != "" {
		data["error"] = lastError
	}
	if next != nil {
		data["next_run_at"] = next.UTC().Format(time.RFC3339)
	}
	if err := s.publisher.PublishJSON(natsbus.TopicEventsSchedule(st.Name), natsbus.NewEvent("schedule_fired", data)); err != nil {
		slog.Debug("publish schedule event failed", "schedule", st.Name, "error", err)
	}
}

// List returns the stored schedules.
func (s *Scheduler) List() ([]store.ScheduledTask, error) {
	return s.store.ListScheduledTasks()
}
