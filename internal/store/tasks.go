package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledTask is a recurring submission managed by the scheduler.
type ScheduledTask struct {
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	TaskType   string          `json:"task_type"`
	Spec       json.RawMessage `json:"spec"`
	Status     string          `json:"status"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	LastTaskID string          `json:"last_task_id,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const scheduledColumns = `name, schedule, task_type, spec, status, next_run_at, last_run_at, last_task_id, last_error, created_at`

func scanScheduled(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledTask, error) {
	t := &ScheduledTask{}
	var spec string
	var lastTaskID, lastError *string
	err := scanner.Scan(&t.Name, &t.Schedule, &t.TaskType, &spec, &t.Status,
		&t.NextRunAt, &t.LastRunAt, &lastTaskID, &lastError, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Spec = json.RawMessage(spec)
	if lastTaskID != nil {
		t.LastTaskID = *lastTaskID
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	return t, nil
}

func (s *Store) SaveScheduledTask(t *ScheduledTask) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (name, schedule, task_type, spec, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schedule = excluded.schedule,
			task_type = excluded.task_type,
			spec = excluded.spec,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		t.Name, t.Schedule, t.TaskType, string(t.Spec), t.Status, utcPtr(t.NextRunAt))
	if err != nil {
		return fmt.Errorf("save scheduled task: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledTask(name string) (*ScheduledTask, error) {
	row := s.db.QueryRow(`SELECT `+scheduledColumns+` FROM scheduled_tasks WHERE name = ?`, name)
	t, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled task: %w", err)
	}
	return t, nil
}

func (s *Store) ListScheduledTasks() ([]ScheduledTask, error) {
	rows, err := s.db.Query(`SELECT ` + scheduledColumns + ` FROM scheduled_tasks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func (s *Store) GetDueScheduledTasks(now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduledColumns+`
		FROM scheduled_tasks
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due scheduled tasks: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func collectScheduled(rows *sql.Rows) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	for rows.Next() {
		t, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateScheduledRun(name, taskID, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_tasks
		SET last_run_at = ?, last_task_id = ?, last_error = ?, next_run_at = ?
		WHERE name = ?`, time.Now().UTC(), taskID, lastError, utcPtr(nextRunAt), name)
	return err
}

func (s *Store) UpdateScheduledStatus(name, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ? WHERE name = ?`, status, name)
	return err
}

// DeleteScheduledTasksNotIn removes schedules no longer present in config.
func (s *Store) DeleteScheduledTasksNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM scheduled_tasks`)
		return err
	}
	query := `DELETE FROM scheduled_tasks WHERE name NOT IN (`
	args := make([]any, len(names))
	for i, name := range names {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = name
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
