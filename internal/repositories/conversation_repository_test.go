package repositories

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyline/internal/models"
)

func newTestConversationRepo(t *testing.T) ConversationRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewConversationRepository(rdb)
}

func TestGetUnknownContactReturnsIdleRecord(t *testing.T) {
	repo := newTestConversationRepo(t)

	rec, err := repo.Get(context.Background(), "77010001122")
	require.NoError(t, err)
	assert.Equal(t, "77010001122", rec.ContactID)
	assert.Equal(t, models.StateIdle, rec.CurrentState)
	assert.True(t, rec.FlowData.IsEmpty())
	assert.Zero(t, rec.LinkedAccountID)
}

func TestPutStateRoundTrip(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	data := models.FlowData{Role: models.RoleStudent, Name: "Aruzhan", Email: "a@example.com"}
	require.NoError(t, repo.PutState(ctx, "77010001122", models.StateRegisterEmail, data))

	rec, err := repo.Get(ctx, "77010001122")
	require.NoError(t, err)
	assert.Equal(t, models.StateRegisterEmail, rec.CurrentState)
	assert.Equal(t, data, rec.FlowData)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestPutStateIdleClearsFlowData(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.PutState(ctx, "c1", models.StateRegisterName, models.FlowData{Role: models.RoleParent}))
	// даже если вызывающий код передал непустые данные, idle их сбрасывает
	require.NoError(t, repo.PutState(ctx, "c1", models.StateIdle, models.FlowData{Name: "leftover"}))

	rec, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, rec.CurrentState)
	assert.True(t, rec.FlowData.IsEmpty())
}

func TestPutStateResetsBadAttempts(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.PutState(ctx, "c1", models.StateRegisterAge, models.FlowData{}))
	n, err := repo.IncBadAttempts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.IncBadAttempts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// невалидные вводы не трогают состояние и данные
	rec, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateRegisterAge, rec.CurrentState)

	require.NoError(t, repo.PutState(ctx, "c1", models.StateRegisterGrade, models.FlowData{Age: 12}))
	rec, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, rec.BadAttempts)
}

func TestLinkAccountIdempotent(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.LinkAccount(ctx, "c1", 42))
	// повторная привязка того же аккаунта — no-op
	require.NoError(t, repo.LinkAccount(ctx, "c1", 42))

	rec, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.LinkedAccountID)

	// другой аккаунт на тот же контакт не садится
	err = repo.LinkAccount(ctx, "c1", 43)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	rec, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.LinkedAccountID)
}

func TestResetKeepsLinkedAccount(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.LinkAccount(ctx, "c1", 42))
	require.NoError(t, repo.PutState(ctx, "c1", models.StateLoginPassword, models.FlowData{Email: "a@example.com"}))
	require.NoError(t, repo.Reset(ctx, "c1"))

	rec, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, rec.CurrentState)
	assert.True(t, rec.FlowData.IsEmpty())
	assert.Equal(t, 42, rec.LinkedAccountID)
}
