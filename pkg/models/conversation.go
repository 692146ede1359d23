package models

import "time"

// Sender identifies who authored a conversation message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry in a conversation's append-only log.
type Message struct {
	MessageID      string      `json:"messageId"`
	Sender         Sender      `json:"sender"`
	Text           string      `json:"text"`
	AgentsInvolved []AgentKind `json:"agentsInvolved,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Conversation is a single chat owned by one user.
type Conversation struct {
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatSummary is the list-mode projection of a conversation.
type ChatSummary struct {
	ChatID       string    `json:"chatId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
