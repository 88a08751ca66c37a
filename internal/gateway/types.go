package gateway

import (
	"context"
	"time"
)

// GatewayAdapter is one external platform connection.
type GatewayAdapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from a platform user.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// Persona is how an agent presents on a platform. The bridge derives it
// from the agent's directory entry; adapters render it however the
// platform allows (Slack username and icon, Discord webhook name).
type Persona struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji,omitempty"`
}

// OutboundMessage is one room message bound for a platform channel.
// Sender is the room handle it came from; Persona is nil for messages
// that are not attributed to an agent.
type OutboundMessage struct {
	Platform  string   `json:"platform"`
	ChannelID string   `json:"channel_id"`
	Sender    string   `json:"sender,omitempty"`
	Persona   *Persona `json:"persona,omitempty"`
	Content   string   `json:"content"`
	ReplyTo   string   `json:"reply_to,omitempty"`
}

// BroadcastType categorizes broadcast messages.
type BroadcastType string

const (
	BroadcastAnnouncement BroadcastType = "announcement"
	BroadcastReply        BroadcastType = "reply"
	BroadcastReminder     BroadcastType = "reminder"
	BroadcastReflection   BroadcastType = "reflection_digest"
)

// BroadcastMessage goes to every connected platform at once.
type BroadcastMessage struct {
	Type      BroadcastType `json:"type"`
	Title     string        `json:"title,omitempty"`
	Content   string        `json:"content"`
	Sender    string        `json:"sender,omitempty"`
	Persona   *Persona      `json:"persona,omitempty"`
	Platforms []string      `json:"platforms,omitempty"`
}
