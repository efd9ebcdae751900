package maintenance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/maintenance"
)

type fakePruner struct {
	cutoffs []float64
	deleted int64
	err     error
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff float64) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func TestPrune_DeletesBeforeWindow(t *testing.T) {
	t.Parallel()
	pruner := &fakePruner{deleted: 12}
	retention := maintenance.NewRetention(nil, pruner, config.MaintenanceConfig{
		PruneSchedule: "0 4 * * *",
		RetentionDays: 30,
	})

	retention.Prune(context.Background())

	require.Len(t, pruner.cutoffs, 1)
	assert.Greater(t, pruner.cutoffs[0], float64(0))
}

func TestPrune_ErrorIsAbsorbed(t *testing.T) {
	t.Parallel()
	pruner := &fakePruner{err: errors.New("db down")}
	retention := maintenance.NewRetention(nil, pruner, config.MaintenanceConfig{
		PruneSchedule: "0 4 * * *",
		RetentionDays: 30,
	})

	assert.NotPanics(t, func() { retention.Prune(context.Background()) })
}

func TestStart_DisabledWithoutWindow(t *testing.T) {
	t.Parallel()
	retention := maintenance.NewRetention(nil, &fakePruner{}, config.MaintenanceConfig{
		PruneSchedule: "0 4 * * *",
	})

	require.NoError(t, retention.Start())
	retention.Stop()
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	t.Parallel()
	retention := maintenance.NewRetention(nil, &fakePruner{}, config.MaintenanceConfig{
		PruneSchedule: "not a schedule",
		RetentionDays: 30,
	})

	assert.Error(t, retention.Start())
}
