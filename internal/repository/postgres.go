package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pool for dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return classify(s.db.Ping(ctx), "ping database")
}

func (s *Postgres) Close() { s.db.Close() }

// classify maps driver errors onto the apperr taxonomy so the workflow
// engine can tell a retryable outage from a permanent failure.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.CodeNotFound, what, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return apperr.Wrap(apperr.CodeConflict, what, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return apperr.Transient(fmt.Errorf("failed to %s: %w", what, err))
		}
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return apperr.Transient(fmt.Errorf("failed to %s: %w", what, err))
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

// Users and profiles

const userColumns = "user_id, email, name, age, profile, balance, created_at, updated_at"

func scanUser(row pgx.Row) (models.User, error) {
	var (
		u       models.User
		profile []byte
		balance float64
	)
	if err := row.Scan(&u.UserID, &u.Email, &u.Name, &u.Age, &profile, &balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return models.User{}, err
	}
	if err := json.Unmarshal(profile, &u.Profile); err != nil {
		return models.User{}, fmt.Errorf("failed to decode profile of %s: %w", u.UserID, err)
	}
	u.Profile.Balance = balance
	return u, nil
}

func (s *Postgres) GetUser(ctx context.Context, userID string) (models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE user_id = $1", userID))
	if err != nil {
		return models.User{}, classify(err, "get user "+userID)
	}
	goals, err := s.listGoals(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	u.Goals = goals
	return u, nil
}

func (s *Postgres) EnsureUser(ctx context.Context, userID, email, name string) (models.User, error) {
	_, err := s.db.Exec(ctx,
		"INSERT INTO users (user_id, email, name) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING",
		userID, email, name)
	if err != nil {
		return models.User{}, classify(err, "ensure user "+userID)
	}
	return s.GetUser(ctx, userID)
}

// ApplyProfilePatch issues one UPDATE. Top-level profile keys are merged
// with ||, nested groups with jsonb_set over the existing group, so keys the
// patch does not name survive even under concurrent patches.
func (s *Postgres) ApplyProfilePatch(ctx context.Context, userID string, patch models.ProfilePatch) error {
	if patch.Empty() {
		return nil
	}
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if patch.Age != nil {
		sets = append(sets, "age = "+arg(*patch.Age))
	}

	top := map[string]any{}
	if patch.EmploymentType != nil {
		top["employmentType"] = *patch.EmploymentType
	}
	if patch.MonthlyIncome != nil {
		top["monthlyIncome"] = *patch.MonthlyIncome
	}
	if patch.MonthlyBurnRate != nil {
		top["monthlyBurnRate"] = *patch.MonthlyBurnRate
	}
	if patch.Dependents != nil {
		top["dependents"] = *patch.Dependents
	}
	groups := []struct {
		key    string
		fields map[string]any
	}{
		{"assets", floats(map[string]*float64{
			"emergencyFund": patch.EmergencyFund,
			"fixedDeposits": patch.FixedDeposits,
			"mutualFunds":   patch.MutualFunds,
			"stocks":        patch.Stocks,
			"gold":          patch.Gold,
			"realEstate":    patch.RealEstate,
		})},
		{"insurance", floats(map[string]*float64{
			"lifeInsuranceCover":   patch.LifeCover,
			"healthInsuranceCover": patch.HealthCover,
		})},
		{"taxDetails", taxFields(patch)},
	}

	expr := "profile"
	if len(top) > 0 {
		doc, err := json.Marshal(top)
		if err != nil {
			return fmt.Errorf("failed to encode profile patch: %w", err)
		}
		expr = fmt.Sprintf("(%s || %s::jsonb)", expr, arg(string(doc)))
	}
	if patch.Liabilities != nil {
		incoming := models.DedupeLiabilities(patch.Liabilities)
		keys := make([]string, 0, len(incoming))
		for _, l := range incoming {
			keys = append(keys, models.LiabilityKey(l))
		}
		doc, err := json.Marshal(incoming)
		if err != nil {
			return fmt.Errorf("failed to encode liabilities patch: %w", err)
		}
		// Same merge as models.MergeLiabilities: drop stored loans of the
		// incoming types, append the incoming list.
		expr = fmt.Sprintf(`jsonb_set(%s, '{liabilities}', COALESCE((
			SELECT jsonb_agg(l ORDER BY i) FROM jsonb_array_elements(COALESCE(profile->'liabilities', '[]'::jsonb)) WITH ORDINALITY AS e(l, i)
			WHERE NOT (lower(btrim(COALESCE(l->>'type', ''))) = ANY(%s::text[]))
		), '[]'::jsonb) || %s::jsonb)`, expr, arg(keys), arg(string(doc)))
	}
	for _, g := range groups {
		if len(g.fields) == 0 {
			continue
		}
		doc, err := json.Marshal(g.fields)
		if err != nil {
			return fmt.Errorf("failed to encode %s patch: %w", g.key, err)
		}
		expr = fmt.Sprintf("jsonb_set(%s, '{%s}', COALESCE(profile->'%s', '{}'::jsonb) || %s::jsonb)", expr, g.key, g.key, arg(string(doc)))
	}
	if expr != "profile" {
		sets = append(sets, "profile = "+expr)
	}

	tag, err := s.db.Exec(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE user_id = $1", args...)
	if err != nil {
		return classify(err, "patch profile of "+userID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s", userID)
	}
	return nil
}

func floats(in map[string]*float64) map[string]any {
	out := map[string]any{}
	for k, v := range in {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func taxFields(p models.ProfilePatch) map[string]any {
	out := map[string]any{}
	if p.TaxRegime != nil {
		out["regime"] = *p.TaxRegime
	}
	if p.PAN != nil {
		out["pan"] = *p.PAN
	}
	return out
}

func (s *Postgres) SetVolatilityScore(ctx context.Context, userID string, score float64) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE users SET profile = jsonb_set(profile, '{incomeVolatilityScore}', to_jsonb($2::double precision)), updated_at = now() WHERE user_id = $1",
		userID, score)
	if err != nil {
		return classify(err, "set volatility score of "+userID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s", userID)
	}
	return nil
}

func (s *Postgres) AddGoal(ctx context.Context, userID string, goal models.Goal) error {
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO goals (goal_id, user_id, name, target_amount, time_horizon_months, priority, monthly_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (goal_id) DO NOTHING`,
		goal.GoalID, userID, goal.Name, goal.TargetAmount, goal.TimeHorizonMonths, goal.Priority, goal.MonthlyRequired, goal.CreatedAt)
	return classify(err, "add goal for "+userID)
}

func (s *Postgres) listGoals(ctx context.Context, userID string) ([]models.Goal, error) {
	rows, err := s.db.Query(ctx, `SELECT goal_id, name, target_amount, time_horizon_months, priority, monthly_required, created_at
		FROM goals WHERE user_id = $1 ORDER BY created_at, goal_id`, userID)
	if err != nil {
		return nil, classify(err, "list goals of "+userID)
	}
	defer rows.Close()
	var goals []models.Goal
	for rows.Next() {
		var g models.Goal
		if err := rows.Scan(&g.GoalID, &g.Name, &g.TargetAmount, &g.TimeHorizonMonths, &g.Priority, &g.MonthlyRequired, &g.CreatedAt); err != nil {
			return nil, classify(err, "scan goal")
		}
		goals = append(goals, g)
	}
	return goals, classify(rows.Err(), "list goals of "+userID)
}

// Transactions

func (s *Postgres) RecordTransaction(ctx context.Context, txn models.Transaction) (bool, error) {
	var inserted bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO transactions (transaction_id, user_id, type, amount, category, date, description, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (transaction_id) DO NOTHING`,
			txn.TransactionID, txn.UserID, string(txn.Type), txn.Amount, txn.Category, txn.Date, txn.Description, txn.Source)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		if delta := txn.Type.BalanceDelta(txn.Amount); delta != 0 {
			tag, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $2, updated_at = now() WHERE user_id = $1", txn.UserID, delta)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return apperr.NotFound("user %s", txn.UserID)
			}
		}
		return nil
	})
	if err != nil {
		var coded *apperr.Error
		if errors.As(err, &coded) {
			return false, err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, apperr.NotFound("user %s", txn.UserID)
		}
		return false, classify(err, "record transaction "+txn.TransactionID)
	}
	return inserted, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT transaction_id, user_id, type, amount, category, date, description, source, created_at
		FROM transactions WHERE user_id = $1 AND date >= $2 ORDER BY date, created_at`, userID, since)
	if err != nil {
		return nil, classify(err, "list transactions of "+userID)
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var typ string
		if err := rows.Scan(&t.TransactionID, &t.UserID, &typ, &t.Amount, &t.Category, &t.Date, &t.Description, &t.Source, &t.CreatedAt); err != nil {
			return nil, classify(err, "scan transaction")
		}
		t.Type = models.TransactionType(typ)
		out = append(out, t)
	}
	return out, classify(rows.Err(), "list transactions of "+userID)
}

// Conversations

func (s *Postgres) AppendMessage(ctx context.Context, userID, chatID string, msg models.Message) error {
	agents, err := json.Marshal(agentsOrEmpty(msg.AgentsInvolved))
	if err != nil {
		return fmt.Errorf("failed to encode agents: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"INSERT INTO conversations (chat_id, user_id, title) VALUES ($1, $2, $3) ON CONFLICT (chat_id) DO NOTHING",
			chatID, userID, chatTitle(msg.Text)); err != nil {
			return err
		}
		// The row lock serializes appends to one chat.
		var owner string
		if err := tx.QueryRow(ctx, "SELECT user_id FROM conversations WHERE chat_id = $1 FOR UPDATE", chatID).Scan(&owner); err != nil {
			return err
		}
		if owner != userID {
			return apperr.New(apperr.CodeForbidden, "chat "+chatID+" belongs to another user")
		}
		tag, err := tx.Exec(ctx, `INSERT INTO messages (chat_id, message_id, sender, text, agents_involved, ts)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6) ON CONFLICT (chat_id, message_id) DO NOTHING`,
			chatID, msg.MessageID, string(msg.Sender), msg.Text, string(agents), msg.Timestamp)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, "UPDATE conversations SET updated_at = now() WHERE chat_id = $1", chatID)
		return err
	})
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return err
	}
	return classify(err, "append message to "+chatID)
}

func agentsOrEmpty(a []models.AgentKind) []models.AgentKind {
	if a == nil {
		return []models.AgentKind{}
	}
	return a
}

func (s *Postgres) GetConversation(ctx context.Context, userID, chatID string) (models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx,
		"SELECT chat_id, user_id, title, created_at, updated_at FROM conversations WHERE chat_id = $1 AND user_id = $2",
		chatID, userID).Scan(&c.ChatID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Conversation{}, classify(err, "get chat "+chatID)
	}
	rows, err := s.db.Query(ctx,
		"SELECT message_id, sender, text, agents_involved, ts FROM messages WHERE chat_id = $1 ORDER BY seq", chatID)
	if err != nil {
		return models.Conversation{}, classify(err, "list messages of "+chatID)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m      models.Message
			sender string
			agents []byte
		)
		if err := rows.Scan(&m.MessageID, &sender, &m.Text, &agents, &m.Timestamp); err != nil {
			return models.Conversation{}, classify(err, "scan message")
		}
		m.Sender = models.Sender(sender)
		if err := json.Unmarshal(agents, &m.AgentsInvolved); err != nil {
			return models.Conversation{}, fmt.Errorf("failed to decode agents of %s: %w", m.MessageID, err)
		}
		if len(m.AgentsInvolved) == 0 {
			m.AgentsInvolved = nil
		}
		c.Messages = append(c.Messages, m)
	}
	return c, classify(rows.Err(), "list messages of "+chatID)
}

func (s *Postgres) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rows, err := s.db.Query(ctx, `SELECT c.chat_id, c.title, c.updated_at, COUNT(m.message_id)
		FROM conversations c LEFT JOIN messages m ON m.chat_id = c.chat_id
		WHERE c.user_id = $1 GROUP BY c.chat_id ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, classify(err, "list chats of "+userID)
	}
	defer rows.Close()
	var out []models.ChatSummary
	for rows.Next() {
		var cs models.ChatSummary
		var count int64
		if err := rows.Scan(&cs.ChatID, &cs.Title, &cs.UpdatedAt, &count); err != nil {
			return nil, classify(err, "scan chat")
		}
		cs.MessageCount = int(count)
		out = append(out, cs)
	}
	return out, classify(rows.Err(), "list chats of "+userID)
}
