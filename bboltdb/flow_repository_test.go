package bboltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

func newTestRepository(t *testing.T) *FlowRepository {
	t.Helper()

	repo, err := NewFlowRepository(filepath.Join(t.TempDir(), "flows.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newFlow(id string, status domain.FlowStatus) *domain.AuthorizationFlow {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	return &domain.AuthorizationFlow{
		ID:              id,
		UserID:          "u1",
		ProviderID:      "ghcp",
		DeviceCode:      "d1",
		UserCode:        "ABCD-1234",
		VerificationURI: "https://example/device",
		Scopes:          []string{"copilot"},
		IntervalSeconds: 5,
		Status:          status,
		CreatedAt:       now,
		ExpiresAt:       now.Add(15 * time.Minute),
	}
}

func TestCreateAndGetByID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.FlowStatusPending)
	require.NoError(t, repo.Create(ctx, flow))

	got, err := repo.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, flow, got)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)
}

func TestReopenKeepsRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flows.db")
	ctx := context.Background()

	repo, err := NewFlowRepository(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, newFlow("f1", domain.FlowStatusPending)))
	require.NoError(t, repo.Close())

	repo, err = NewFlowRepository(dbPath)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusPending, got.Status)
}

func TestUpdateStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newFlow("f1", domain.FlowStatusPending)))

	require.NoError(t, repo.UpdateStatus(ctx, "f1", domain.FlowStatusPending, domain.FlowStatusError, "boom"))

	got, err := repo.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusError, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestUpdateStatusConflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newFlow("f1", domain.FlowStatusCompleted)))

	err := repo.UpdateStatus(ctx, "f1", domain.FlowStatusPending, domain.FlowStatusExpired, "")
	assert.ErrorIs(t, err, serrors.ErrFlowStateConflict)

	got, err := repo.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusCompleted, got.Status)
}

func TestUpdateStatusNotFound(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.UpdateStatus(context.Background(), "missing", domain.FlowStatusPending, domain.FlowStatusExpired, "")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)
}

func TestUpdateIntervalOnlyGrows(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newFlow("f1", domain.FlowStatusPending)))

	require.NoError(t, repo.UpdateInterval(ctx, "f1", 10))
	got, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, 10, got.IntervalSeconds)

	require.NoError(t, repo.UpdateInterval(ctx, "f1", 3))
	got, _ = repo.GetByID(ctx, "f1")
	assert.Equal(t, 10, got.IntervalSeconds)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newFlow("f1", domain.FlowStatusPending)))

	require.NoError(t, repo.Delete(ctx, "f1"))
	_, err := repo.GetByID(ctx, "f1")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)

	require.NoError(t, repo.Delete(ctx, "f1"))
}

func TestListExpiredPending(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	stale := newFlow("stale", domain.FlowStatusPending)
	stale.ExpiresAt = now.Add(-time.Minute)
	fresh := newFlow("fresh", domain.FlowStatusPending)
	fresh.ExpiresAt = now.Add(time.Minute)
	done := newFlow("done", domain.FlowStatusExpired)
	done.ExpiresAt = now.Add(-time.Minute)

	for _, f := range []*domain.AuthorizationFlow{stale, fresh, done} {
		require.NoError(t, repo.Create(ctx, f))
	}

	out, err := repo.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "stale", out[0].ID)
}

func TestDeleteTerminalCreatedBefore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	old := newFlow("old", domain.FlowStatusCompleted)
	old.CreatedAt = now.Add(-2 * time.Hour)
	recent := newFlow("recent", domain.FlowStatusError)
	recent.CreatedAt = now.Add(-10 * time.Minute)
	pending := newFlow("pending", domain.FlowStatusPending)
	pending.CreatedAt = now.Add(-2 * time.Hour)

	for _, f := range []*domain.AuthorizationFlow{old, recent, pending} {
		require.NoError(t, repo.Create(ctx, f))
	}

	deleted, err := repo.DeleteTerminalCreatedBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = repo.GetByID(ctx, "old")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)
	_, err = repo.GetByID(ctx, "pending")
	require.NoError(t, err)
	_, err = repo.GetByID(ctx, "recent")
	require.NoError(t, err)
}
