// Package repository is the conversation/profile store adapter. Every
// profile write is a field-scoped patch or an atomic increment and every
// conversation write is an append, so concurrent runs for one user commute.
package repository

import (
	"context"
	"time"

	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"
)

// ProfileStore reads and patches the per-user profile aggregate.
type ProfileStore interface {
	// GetUser returns the user with profile, cached balance and goals.
	GetUser(ctx context.Context, userID string) (models.User, error)
	// EnsureUser creates the user on first sight and returns it.
	EnsureUser(ctx context.Context, userID, email, name string) (models.User, error)
	// ApplyProfilePatch writes each non-nil field of patch without touching siblings.
	ApplyProfilePatch(ctx context.Context, userID string, patch models.ProfilePatch) error
	SetVolatilityScore(ctx context.Context, userID string, score float64) error
	// AddGoal appends goal; a goal id already present is ignored.
	AddGoal(ctx context.Context, userID string, goal models.Goal) error
}

// TransactionStore holds the append-only transaction log.
type TransactionStore interface {
	// RecordTransaction inserts txn and adjusts the cached balance in one
	// unit of work. A transaction id already present is a no-op and reports
	// inserted=false, so replays never double-book.
	RecordTransaction(ctx context.Context, txn models.Transaction) (inserted bool, err error)
	// ListTransactions returns the user's transactions dated on or after since, oldest first.
	ListTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error)
}

// ConversationStore is the append-only message log.
type ConversationStore interface {
	// AppendMessage creates the chat lazily and appends msg. A message id
	// already in the chat is ignored. Appending to another user's chat is
	// rejected with apperr FORBIDDEN.
	AppendMessage(ctx context.Context, userID, chatID string, msg models.Message) error
	GetConversation(ctx context.Context, userID, chatID string) (models.Conversation, error)
	// ListChats returns the user's chats, most recently updated first.
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

// Store is everything the advisory pipeline persists.
type Store interface {
	ProfileStore
	TransactionStore
	ConversationStore
	workflow.RunStore
	Ping(ctx context.Context) error
	Close()
}

const maxTitleLen = 60

// chatTitle derives a chat title from its first message.
func chatTitle(text string) string {
	r := []rune(text)
	if len(r) <= maxTitleLen {
		return text
	}
	return string(r[:maxTitleLen-3]) + "..."
}
