package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
	applog "github.com/sandboxhq/devicelink/log"
	"github.com/sandboxhq/devicelink/memory"
)

func seedFlow(t *testing.T, store domain.FlowRepository, id string, status domain.FlowStatus, createdAt, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &domain.AuthorizationFlow{
		ID:         id,
		UserID:     "u1",
		ProviderID: "ghcp",
		Status:     status,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}))
}

func TestReaperSweep(t *testing.T) {
	store := memory.NewFlowRepository()
	logger := applog.NewZerologAdapter(zerolog.Disabled, false)
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	reaper := NewReaper(store, time.Minute, time.Hour, logger)
	reaper.now = func() time.Time { return now }

	// Past its deadline, still pending: must become expired.
	seedFlow(t, store, "stale-pending", domain.FlowStatusPending, now.Add(-20*time.Minute), now.Add(-5*time.Minute))
	// Still inside its window: untouched.
	seedFlow(t, store, "fresh-pending", domain.FlowStatusPending, now.Add(-time.Minute), now.Add(10*time.Minute))
	// Terminal and older than retention: removed.
	seedFlow(t, store, "old-completed", domain.FlowStatusCompleted, now.Add(-2*time.Hour), now.Add(-2*time.Hour))
	// Terminal but recent: kept.
	seedFlow(t, store, "recent-error", domain.FlowStatusError, now.Add(-10*time.Minute), now.Add(-10*time.Minute))

	reaper.Sweep(context.Background())

	flow, err := store.GetByID(context.Background(), "stale-pending")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusExpired, flow.Status)

	flow, err = store.GetByID(context.Background(), "fresh-pending")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusPending, flow.Status)

	_, err = store.GetByID(context.Background(), "old-completed")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)

	flow, err = store.GetByID(context.Background(), "recent-error")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusError, flow.Status)
}

func TestReaperSweepRetiresExpiredAfterRetention(t *testing.T) {
	store := memory.NewFlowRepository()
	logger := applog.NewZerologAdapter(zerolog.Disabled, false)
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	reaper := NewReaper(store, time.Minute, time.Hour, logger)
	reaper.now = func() time.Time { return now }

	seedFlow(t, store, "abandoned", domain.FlowStatusPending, now.Add(-30*time.Minute), now.Add(-15*time.Minute))

	// First sweep expires the record but keeps it observable.
	reaper.Sweep(context.Background())
	flow, err := store.GetByID(context.Background(), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusExpired, flow.Status)

	// Once the retention window has passed, a later sweep deletes it.
	now = now.Add(2 * time.Hour)
	reaper.Sweep(context.Background())
	_, err = store.GetByID(context.Background(), "abandoned")
	assert.ErrorIs(t, err, serrors.ErrFlowNotFound)
}

func TestReaperDefaults(t *testing.T) {
	logger := applog.NewZerologAdapter(zerolog.Disabled, false)
	reaper := NewReaper(memory.NewFlowRepository(), 0, 0, logger)

	assert.Equal(t, DefaultReaperInterval, reaper.interval)
	assert.Equal(t, DefaultRetention, reaper.retention)
}

func TestReaperRunStopsOnContextCancel(t *testing.T) {
	logger := applog.NewZerologAdapter(zerolog.Disabled, false)
	reaper := NewReaper(memory.NewFlowRepository(), 10*time.Millisecond, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
