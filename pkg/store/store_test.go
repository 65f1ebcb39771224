package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)

	v, dirty, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is fine.
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(ctx, experiment.RunRecord{
		ID:           "run-1",
		Experiment:   "growth",
		Calibration:  "plate.json",
		Pattern:      wellgrid.Snake,
		Mode:         experiment.ModeVideo,
		WellsTotal:   2,
		OutputFolder: "/out/20250501_growth",
		StartedAt:    start,
	}))

	wells := []wellgrid.Well{
		{Label: "A1", Position: wellgrid.Point{X: 1, Y: 2, Z: 3}},
		{Label: "A2", Position: wellgrid.Point{X: 4.5, Y: 2, Z: 3}},
	}
	for i, w := range wells {
		require.NoError(t, s.RecordVisit(ctx, "run-1", i+1, w, start.Add(time.Duration(i+1)*time.Minute)))
	}

	r, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, string(experiment.PhaseRunning), r.Phase)
	assert.Equal(t, 2, r.WellsVisited)
	assert.Nil(t, r.FinishedAt)
	assert.True(t, start.Equal(r.StartedAt))

	require.NoError(t, s.FinishRun(ctx, "run-1", experiment.PhaseCompleted, "", start.Add(time.Hour)))
	r, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, string(experiment.PhaseCompleted), r.Phase)
	require.NotNil(t, r.FinishedAt)
	assert.True(t, start.Add(time.Hour).Equal(*r.FinishedAt))

	visits, err := s.Visits(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, "A2", visits[1].Label)
	assert.Equal(t, 4.5, visits[1].X)
	assert.Equal(t, 2, visits[1].Seq)

	assert.ErrorIs(t, s.FinishRun(ctx, "missing", experiment.PhaseStopped, "", start), ErrRunNotFound)
	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	// Visits must reference a run.
	assert.Error(t, s.RecordVisit(ctx, "missing", 1, wells[0], start))
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateRun(ctx, experiment.RunRecord{
			ID:         id,
			Experiment: "exp",
			Pattern:    wellgrid.Raster,
			Mode:       experiment.ModeImage,
			StartedAt:  base.Add(time.Duration(i) * 1500 * time.Millisecond),
		}))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	empty, err := s.Visits(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	for _, id := range []string{"done", "lost"} {
		require.NoError(t, s.CreateRun(ctx, experiment.RunRecord{ID: id, StartedAt: now}))
	}
	require.NoError(t, s.FinishRun(ctx, "done", experiment.PhaseCompleted, "", now))

	n, err := s.RecoverInterrupted(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := s.GetRun(ctx, "lost")
	require.NoError(t, err)
	assert.Equal(t, string(experiment.PhaseError), r.Phase)
	assert.NotEmpty(t, r.Message)

	r, err = s.GetRun(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, string(experiment.PhaseCompleted), r.Phase)
}

func TestStoreBacksRunner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	motion := config.Motion{Feedrate: 1000, Acceleration: 100}
	plan := &experiment.Plan{
		Settings: experiment.Settings{
			CalibrationFile: "plate.json",
			SelectedWells:   []string{"A1", "A2"},
			ActionPhases:    []experiment.ActionPhase{{Action: experiment.ActionGPIOOn, Time: 0}},
		}.WithDefaults(),
		Pattern: wellgrid.Snake,
		Motion:  config.MotionProfile{Preliminary: motion, BetweenWells: motion},
		Wells: []wellgrid.Well{
			{Label: "A1", Position: wellgrid.Point{X: 1, Y: 1, Z: 1}},
			{Label: "A2", Position: wellgrid.Point{X: 2, Y: 1, Z: 1}},
		},
	}

	r := experiment.NewRunner(experiment.Devices{
		Stage:   hardware.NewSimStage(wellgrid.Point{}),
		Emitter: hardware.NewSimEmitter(false),
		Camera:  hardware.NewSimCamera(),
	}, experiment.RunnerOptions{OutputDir: t.TempDir(), History: s})

	runID, err := r.Start(ctx, plan)
	require.NoError(t, err)
	r.Wait()

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.PhaseCompleted), run.Phase)
	assert.Equal(t, 2, run.WellsTotal)
	assert.Equal(t, 2, run.WellsVisited)
	assert.Equal(t, "snake", run.Pattern)
	assert.Equal(t, "video", run.Mode)
}
