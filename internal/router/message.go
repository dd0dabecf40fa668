package router

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TaskAssignment     MessageType = "task_assignment"
	TaskResult         MessageType = "task_result"
	StatusUpdate       MessageType = "status_update"
	CapabilityQuery    MessageType = "capability_query"
	CapabilityResponse MessageType = "capability_response"
	Coordination       MessageType = "coordination"
	Heartbeat          MessageType = "heartbeat"
	Error              MessageType = "error"
	Request            MessageType = "request"
	Response           MessageType = "response"
)

// Channel names created with every router.
const (
	ChannelCoordination = "coordination"
	ChannelStatus       = "status"
	ChannelEmergency    = "emergency"
)

const channelPrefix = "channel:"

type Message struct {
	ID            string         `json:"id"`
	SenderID      string         `json:"sender_id"`
	RecipientID   string         `json:"recipient_id"`
	Type          MessageType    `json:"type"`
	Content       map[string]any `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	TTL           time.Duration  `json:"ttl,omitempty"`
}

func NewMessage(msgType MessageType, sender, recipient string, content map[string]any) *Message {
	if content == nil {
		content = map[string]any{}
	}
	return &Message{
		ID:          uuid.New().String(),
		SenderID:    sender,
		RecipientID: recipient,
		Type:        msgType,
		Content:     content,
		Timestamp:   time.Now(),
	}
}

// Expired reports whether the message outlived its TTL at now. A zero TTL
// never expires.
func (m *Message) Expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL
}

// Reply builds a response to m from sender, keeping the correlation id.
func (m *Message) Reply(sender string, content map[string]any) *Message {
	r := NewMessage(Response, sender, m.SenderID, content)
	r.CorrelationID = m.CorrelationID
	r.ReplyTo = m.ID
	return r
}

func (m *Message) copyFor(recipient string) *Message {
	c := *m
	c.ID = uuid.New().String()
	c.RecipientID = recipient
	c.ReplyTo = m.ID
	c.Content = maps.Clone(m.Content)
	return &c
}

// ChannelRecipient returns the recipient id addressing a broadcast channel.
func ChannelRecipient(name string) string {
	return channelPrefix + name
}

// ChannelName extracts the channel name from a channel recipient id.
func ChannelName(recipient string) (string, bool) {
	if !strings.HasPrefix(recipient, channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(recipient, channelPrefix), true
}
