// Package conversation persists conversation turns per tenant.
//
// The log is the durable side of a conversation: an append-only turn
// sequence plus a small status lifecycle (open, closed, learned). The
// orchestrator appends at commit points only; the learning pipeline
// consumes closed conversations and flips them to learned exactly once.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation statuses.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusLearned = "learned"
)

var (
	// ErrNotFound is returned when a conversation ID does not exist for
	// the tenant.
	ErrNotFound = errors.New("conversation not found")

	// ErrClosed is returned when appending to a conversation that is no
	// longer open.
	ErrClosed = errors.New("conversation is closed")
)

// Turn is one message within a conversation.
type Turn struct {
	ConversationID string
	Seq            int
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Log is the SQLite-backed conversation store.
type Log struct {
	db     *storage.DB
	logger *zap.Logger
}

// NewLog creates a conversation log.
func NewLog(db *storage.DB, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{db: db, logger: logger}
}

// Ensure creates the conversation row if it does not exist yet. Appending
// to an unknown conversation goes through here so the first inbound
// message of a session opens it implicitly.
func (l *Log) Ensure(ctx context.Context, conversationID string) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = l.db.SQL().ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, status, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		conversationID, scope.TenantID, StatusOpen, storage.FormatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("opening conversation: %w", err)
	}
	return nil
}

// Append adds a turn at the end of the conversation.
func (l *Log) Append(ctx context.Context, conversationID, role, content string) (Turn, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return Turn{}, err
	}

	var status string
	err = l.db.SQL().QueryRowContext(ctx,
		`SELECT status FROM conversations WHERE id = ? AND tenant_id = ?`,
		conversationID, scope.TenantID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return Turn{}, err
	}
	if status != StatusOpen {
		return Turn{}, fmt.Errorf("%w: %s", ErrClosed, conversationID)
	}

	now := time.Now().UTC()
	turn := Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	err = l.db.SQL().QueryRowContext(ctx,
		`INSERT INTO conversation_turns (conversation_id, seq, role, content, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE conversation_id = ?), ?, ?, ?)
		 RETURNING seq`,
		conversationID, conversationID, role, content, storage.FormatTime(now)).Scan(&turn.Seq)
	if err != nil {
		return Turn{}, fmt.Errorf("appending turn: %w", err)
	}
	return turn, nil
}

// History returns the conversation's turns in order. A non-positive limit
// returns everything; otherwise the most recent limit turns.
func (l *Log) History(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT t.conversation_id, t.seq, t.role, t.content, t.created_at
		 FROM conversation_turns t
		 JOIN conversations c ON c.id = t.conversation_id
		 WHERE t.conversation_id = ? AND c.tenant_id = ?
		 ORDER BY t.seq`
	args := []any{conversationID, scope.TenantID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := l.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ConversationID, &t.Seq, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close marks the conversation closed. Closing an already-closed
// conversation is a no-op so the caller can retry safely.
func (l *Log) Close(ctx context.Context, conversationID string) error {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	res, err := l.db.SQL().ExecContext(ctx,
		`UPDATE conversations SET status = ?, closed_at = ?
		 WHERE id = ? AND tenant_id = ? AND status = ?`,
		StatusClosed, storage.FormatTime(time.Now().UTC()),
		conversationID, scope.TenantID, StatusOpen)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := l.db.SQL().QueryRowContext(ctx,
			`SELECT status FROM conversations WHERE id = ? AND tenant_id = ?`,
			conversationID, scope.TenantID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ClaimForLearning atomically transitions a closed conversation to
// learned. It reports false when the conversation was already claimed,
// which is how duplicate close events are absorbed.
func (l *Log) ClaimForLearning(ctx context.Context, conversationID string) (bool, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return false, err
	}
	res, err := l.db.SQL().ExecContext(ctx,
		`UPDATE conversations SET status = ?
		 WHERE id = ? AND tenant_id = ? AND status = ?`,
		StatusLearned, conversationID, scope.TenantID, StatusClosed)
	if err != nil {
		return false, fmt.Errorf("claiming conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Status returns the conversation's lifecycle status.
func (l *Log) Status(ctx context.Context, conversationID string) (string, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return "", err
	}
	var status string
	err = l.db.SQL().QueryRowContext(ctx,
		`SELECT status FROM conversations WHERE id = ? AND tenant_id = ?`,
		conversationID, scope.TenantID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return status, err
}
