package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is the persisted record of an agent the registry created.
type Agent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Role         string          `json:"role"`
	Type         string          `json:"type"`
	Template     string          `json:"template,omitempty"`
	Capabilities json.RawMessage `json:"capabilities"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	RemovedAt    *time.Time      `json:"removed_at,omitempty"`
}

const agentColumns = `id, name, role, agent_type, template, capabilities, status, created_at, updated_at, removed_at`

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*Agent, error) {
	a := &Agent{}
	var template sql.NullString
	var caps string
	err := scanner.Scan(&a.ID, &a.Name, &a.Role, &a.Type, &template, &caps, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.RemovedAt)
	if err != nil {
		return nil, err
	}
	a.Template = template.String
	a.Capabilities = json.RawMessage(caps)
	return a, nil
}

func (s *Store) SaveAgent(a *Agent) error {
	caps := a.Capabilities
	if len(caps) == 0 {
		caps = json.RawMessage("[]")
	}
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, role, agent_type, template, capabilities, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			agent_type = excluded.agent_type,
			template = excluded.template,
			capabilities = excluded.capabilities,
			status = excluded.status,
			removed_at = NULL,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Role, a.Type, a.Template, string(caps), a.Status)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents still live, oldest first.
func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents WHERE removed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateAgentStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// MarkAgentRemoved keeps the row for auditing but hides it from ListAgents.
func (s *Store) MarkAgentRemoved(id string) error {
	_, err := s.db.Exec(`
		UPDATE agents SET status = 'offline', removed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	return err
}

// MarkAllAgentsRemoved retires every live row. The gateway calls it at
// startup since agents never survive a restart.
func (s *Store) MarkAllAgentsRemoved() error {
	_, err := s.db.Exec(`
		UPDATE agents SET status = 'offline', removed_at = CURRENT_TIMESTAMP
		WHERE removed_at IS NULL`)
	return err
}
