package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TaskRun is the terminal record of a swarm task.
type TaskRun struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Description    string          `json:"description,omitempty"`
	Priority       int             `json:"priority"`
	Status         string          `json:"status"`
	AssignedAgents json.RawMessage `json:"assigned_agents,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, task_type, description, priority, status, assigned_agents, result, error, retry_count, created_at, completed_at`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*TaskRun, error) {
	r := &TaskRun{}
	var description, agents, result, errText sql.NullString
	err := scanner.Scan(&r.ID, &r.Type, &description, &r.Priority, &r.Status, &agents, &result, &errText,
		&r.RetryCount, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.Error = errText.String
	if agents.Valid {
		r.AssignedAgents = json.RawMessage(agents.String)
	}
	if result.Valid {
		r.Result = json.RawMessage(result.String)
	}
	return r, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *Store) SaveTaskRun(r *TaskRun) error {
	_, err := s.db.Exec(`
		INSERT INTO task_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agents = excluded.assigned_agents,
			result = excluded.result,
			error = excluded.error,
			retry_count = excluded.retry_count,
			completed_at = excluded.completed_at`,
		r.ID, r.Type, r.Description, r.Priority, r.Status, nullJSON(r.AssignedAgents), nullJSON(r.Result),
		r.Error, r.RetryCount, r.CreatedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task run: %w", err)
	}
	return nil
}

func (s *Store) GetTaskRun(id string) (*TaskRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM task_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task run: %w", err)
	}
	return r, nil
}

// ListTaskRuns returns the newest runs first, optionally filtered by status.
func (s *Store) ListTaskRuns(status string, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + runColumns + ` FROM task_runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY completed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// EachTaskRun streams every run in completion order to fn.
func (s *Store) EachTaskRun(fn func(TaskRun) error) error {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM task_runs ORDER BY completed_at`)
	if err != nil {
		return fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return fmt.Errorf("scan task run: %w", err)
		}
		if err := fn(*r); err != nil {
			return err
		}
	}
	return rows.Err()
}

type RunStats struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *Store) GetRunStats() (RunStats, error) {
	var st RunStats
	err := s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM task_runs`).Scan(&st.Completed, &st.Failed)
	if err != nil {
		return st, fmt.Errorf("get run stats: %w", err)
	}
	return st, nil
}

func (s *Store) DeleteTaskRunsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM task_runs WHERE completed_at < ?`, t)
	if err != nil {
		return 0, fmt.Errorf("delete task runs: %w", err)
	}
	return res.RowsAffected()
}
