package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.Open(t.TempDir()+"/sicc.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLog(db, nil)
}

func scopedCtx(t *testing.T, tenantID string) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(tenantID)
	require.NoError(t, err)
	return tenant.NewContext(context.Background(), scope)
}

func TestAppendAndHistory(t *testing.T) {
	log := newTestLog(t)
	ctx := scopedCtx(t, "acme")

	require.NoError(t, log.Ensure(ctx, "conv-1"))

	first, err := log.Append(ctx, "conv-1", RoleUser, "oi")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Seq)

	second, err := log.Append(ctx, "conv-1", RoleAssistant, "olá, como posso ajudar?")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Seq)

	turns, err := log.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "oi", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	log := newTestLog(t)
	ctx := scopedCtx(t, "acme")
	require.NoError(t, log.Ensure(ctx, "conv-1"))

	for _, msg := range []string{"um", "dois", "três", "quatro"} {
		_, err := log.Append(ctx, "conv-1", RoleUser, msg)
		require.NoError(t, err)
	}

	turns, err := log.History(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "três", turns[0].Content)
	assert.Equal(t, "quatro", turns[1].Content)
}

func TestAppendRequiresOpenConversation(t *testing.T) {
	log := newTestLog(t)
	ctx := scopedCtx(t, "acme")

	_, err := log.Append(ctx, "missing", RoleUser, "oi")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, log.Ensure(ctx, "conv-1"))
	require.NoError(t, log.Close(ctx, "conv-1"))

	_, err = log.Append(ctx, "conv-1", RoleUser, "oi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHistoryScopedToTenant(t *testing.T) {
	log := newTestLog(t)
	acme := scopedCtx(t, "acme")
	rival := scopedCtx(t, "rival")

	require.NoError(t, log.Ensure(acme, "conv-1"))
	_, err := log.Append(acme, "conv-1", RoleUser, "segredo")
	require.NoError(t, err)

	turns, err := log.History(rival, "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	_, err = log.Append(rival, "conv-1", RoleUser, "intruso")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseIsIdempotent(t *testing.T) {
	log := newTestLog(t)
	ctx := scopedCtx(t, "acme")
	require.NoError(t, log.Ensure(ctx, "conv-1"))

	require.NoError(t, log.Close(ctx, "conv-1"))
	require.NoError(t, log.Close(ctx, "conv-1"))

	status, err := log.Status(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, status)

	assert.ErrorIs(t, log.Close(ctx, "missing"), ErrNotFound)
}

func TestClaimForLearningAbsorbsDuplicates(t *testing.T) {
	log := newTestLog(t)
	ctx := scopedCtx(t, "acme")
	require.NoError(t, log.Ensure(ctx, "conv-1"))

	// Not claimable while still open.
	claimed, err := log.ClaimForLearning(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, log.Close(ctx, "conv-1"))

	claimed, err = log.ClaimForLearning(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Redelivery of the close event claims nothing.
	claimed, err = log.ClaimForLearning(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestOperationsFailClosedWithoutScope(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	assert.ErrorIs(t, log.Ensure(ctx, "conv-1"), tenant.ErrUnresolvedTenant)
	_, err := log.Append(ctx, "conv-1", RoleUser, "oi")
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
	_, err = log.History(ctx, "conv-1", 0)
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}
