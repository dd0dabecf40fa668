package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// BusMessage is an archived message routed between agents.
type BusMessage struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	SenderID      string          `json:"sender_id"`
	RecipientID   string          `json:"recipient_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (s *Store) SaveBusMessage(m *BusMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, msg_type, sender_id, recipient_id, correlation_id, reply_to, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Type, m.SenderID, m.RecipientID, m.CorrelationID, m.ReplyTo, nullJSON(m.Content), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func scanBusMessage(scanner interface {
	Scan(dest ...any) error
}) (*BusMessage, error) {
	m := &BusMessage{}
	var correlationID, replyTo, content sql.NullString
	if err := scanner.Scan(&m.ID, &m.Type, &m.SenderID, &m.RecipientID, &correlationID, &replyTo, &content, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CorrelationID = correlationID.String
	m.ReplyTo = replyTo.String
	if content.Valid {
		m.Content = json.RawMessage(content.String)
	}
	return m, nil
}

// GetMessages returns up to limit messages involving agentID, in
// chronological order. An empty agentID returns the most recent messages
// overall.
func (s *Store) GetMessages(agentID string, limit int) ([]BusMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, msg_type, sender_id, recipient_id, correlation_id, reply_to, content, created_at
		FROM messages`
	args := []any{}
	if agentID != "" {
		query += ` WHERE sender_id = ? OR recipient_id = ?`
		args = append(args, agentID, agentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []BusMessage
	for rows.Next() {
		m, err := scanBusMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

type AgentMessageStats struct {
	AgentID      string
	MessageCount int
}

// GetAgentMessageStats counts messages received per recipient.
func (s *Store) GetAgentMessageStats() (map[string]AgentMessageStats, error) {
	rows, err := s.db.Query(`
		SELECT recipient_id, COUNT(*) FROM messages
		GROUP BY recipient_id`)
	if err != nil {
		return nil, fmt.Errorf("get agent message stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]AgentMessageStats)
	for rows.Next() {
		var st AgentMessageStats
		if err := rows.Scan(&st.AgentID, &st.MessageCount); err != nil {
			return nil, fmt.Errorf("scan message stats: %w", err)
		}
		stats[st.AgentID] = st
	}
	return stats, rows.Err()
}
