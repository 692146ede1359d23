package models

// EventChatMessageReceived is the trigger type for the advisory workflow.
const EventChatMessageReceived = "chat.message.received"

// ChatEvent is the triggering event published by chat ingress.
type ChatEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId,omitempty"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Image     string `json:"image,omitempty"`
}

// IdempotencyKey anchors run identity on the message id.
func (e ChatEvent) IdempotencyKey() string {
	return e.Type + ":" + e.MessageID
}
