package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"
)

// Memory is an in-process Store used by tests and `serve --store=memory`.
type Memory struct {
	*workflow.MemoryStore

	mu            sync.Mutex
	users         map[string]*models.User
	transactions  map[string][]models.Transaction // by user
	txnIDs        map[string]struct{}
	conversations map[string]*models.Conversation // by chat id
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		MemoryStore:   workflow.NewMemoryStore(),
		users:         map[string]*models.User{},
		transactions:  map[string][]models.Transaction{},
		txnIDs:        map[string]struct{}{},
		conversations: map[string]*models.Conversation{},
		now:           time.Now,
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) GetUser(ctx context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, apperr.NotFound("user %s", userID)
	}
	return cloneUser(u), nil
}

func (m *Memory) EnsureUser(ctx context.Context, userID, email, name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return cloneUser(u), nil
	}
	now := m.now().UTC()
	u := &models.User{UserID: userID, Email: email, Name: name, CreatedAt: now, UpdatedAt: now}
	m.users[userID] = u
	return cloneUser(u), nil
}

func (m *Memory) ApplyProfilePatch(ctx context.Context, userID string, patch models.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperr.NotFound("user %s", userID)
	}
	patch.ApplyTo(u)
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetVolatilityScore(ctx context.Context, userID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperr.NotFound("user %s", userID)
	}
	u.Profile.VolatilityScore = &score
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) AddGoal(ctx context.Context, userID string, goal models.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperr.NotFound("user %s", userID)
	}
	for _, g := range u.Goals {
		if g.GoalID == goal.GoalID {
			return nil
		}
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = m.now().UTC()
	}
	u.Goals = append(u.Goals, goal)
	return nil
}

func (m *Memory) RecordTransaction(ctx context.Context, txn models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[txn.UserID]
	if !ok {
		return false, apperr.NotFound("user %s", txn.UserID)
	}
	if _, dup := m.txnIDs[txn.TransactionID]; dup {
		return false, nil
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = m.now().UTC()
	}
	m.txnIDs[txn.TransactionID] = struct{}{}
	m.transactions[txn.UserID] = append(m.transactions[txn.UserID], txn)
	u.Profile.Balance += txn.Type.BalanceDelta(txn.Amount)
	return true, nil
}

func (m *Memory) ListTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.transactions[userID] {
		if !t.Date.Before(since) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) AppendMessage(ctx context.Context, userID, chatID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	c, ok := m.conversations[chatID]
	if !ok {
		c = &models.Conversation{ChatID: chatID, UserID: userID, Title: chatTitle(msg.Text), CreatedAt: now}
		m.conversations[chatID] = c
	}
	if c.UserID != userID {
		return apperr.New(apperr.CodeForbidden, "chat "+chatID+" belongs to another user")
	}
	for _, existing := range c.Messages {
		if existing.MessageID == msg.MessageID {
			return nil
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	return nil
}

func (m *Memory) GetConversation(ctx context.Context, userID, chatID string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[chatID]
	if !ok || c.UserID != userID {
		return models.Conversation{}, apperr.NotFound("chat %s", chatID)
	}
	out := *c
	out.Messages = append([]models.Message(nil), c.Messages...)
	return out, nil
}

func (m *Memory) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatSummary
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, models.ChatSummary{ChatID: c.ChatID, Title: c.Title, MessageCount: len(c.Messages), UpdatedAt: c.UpdatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func cloneUser(u *models.User) models.User {
	c := *u
	c.Goals = append([]models.Goal(nil), u.Goals...)
	c.Profile.Liabilities = append([]models.Liability(nil), u.Profile.Liabilities...)
	if u.Profile.Dependents != nil {
		d := *u.Profile.Dependents
		c.Profile.Dependents = &d
	}
	if u.Profile.VolatilityScore != nil {
		v := *u.Profile.VolatilityScore
		c.Profile.VolatilityScore = &v
	}
	return c
}
