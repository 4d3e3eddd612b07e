// Package learning mines closed conversations for reusable behavior.
//
// The pipeline is asynchronous and decoupled from the request path: a
// conversation-close event feeds the extractor, which accumulates evidence
// for recurring trigger shapes as learning candidates. The pattern
// supervisor later promotes high-confidence candidates into approved
// behavior patterns or leaves them pending for manual review.
package learning

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

// Candidate statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ErrCandidateNotFound is returned when a candidate ID does not exist.
var ErrCandidateNotFound = errors.New("learning candidate not found")

// Candidate is a proposed behavior pattern awaiting review.
type Candidate struct {
	ID            string
	TenantID      string
	Trigger       string
	Response      string
	DedupHash     string
	EvidenceCount int
	Confidence    float64
	Status        string
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// normalizeTrigger canonicalizes a user message for dedup: lowercase,
// punctuation stripped, whitespace collapsed.
func normalizeTrigger(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// dedupHash is the stable identity of a trigger shape within a tenant.
func dedupHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func candidateByHash(ctx context.Context, db *storage.DB, tenantID, hash string) (Candidate, error) {
	row := db.SQL().QueryRowContext(ctx,
		`SELECT id, tenant_id, trigger_text, response, dedup_hash, evidence_count, confidence, status, created_at, decided_at
		 FROM learning_candidates WHERE tenant_id = ? AND dedup_hash = ?`, tenantID, hash)
	return scanCandidate(row)
}

// Get loads a candidate by ID within the context scope.
func Get(ctx context.Context, db *storage.DB, id string) (Candidate, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return Candidate{}, err
	}
	row := db.SQL().QueryRowContext(ctx,
		`SELECT id, tenant_id, trigger_text, response, dedup_hash, evidence_count, confidence, status, created_at, decided_at
		 FROM learning_candidates WHERE id = ? AND tenant_id = ?`, id, scope.TenantID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Candidate{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (Candidate, error) {
	var c Candidate
	var createdAt string
	var decidedAt sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.Trigger, &c.Response, &c.DedupHash,
		&c.EvidenceCount, &c.Confidence, &c.Status, &createdAt, &decidedAt)
	if err != nil {
		return c, err
	}
	if c.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return c, err
	}
	if decidedAt.Valid {
		t, err := storage.ParseTime(decidedAt.String)
		if err != nil {
			return c, err
		}
		c.DecidedAt = &t
	}
	return c, nil
}

func newCandidateID() string { return uuid.New().String() }
