package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

type fakeHistory struct {
	mu       sync.Mutex
	runs     []RunRecord
	visits   []string
	finished map[string]Phase
	messages map[string]string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{finished: map[string]Phase{}, messages: map[string]string{}}
}

func (h *fakeHistory) CreateRun(_ context.Context, r RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, r)
	return nil
}

func (h *fakeHistory) RecordVisit(_ context.Context, _ string, _ int, w wellgrid.Well, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visits = append(h.visits, w.Label)
	return nil
}

func (h *fakeHistory) FinishRun(_ context.Context, runID string, phase Phase, msg string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished[runID] = phase
	h.messages[runID] = msg
	return nil
}

func (h *fakeHistory) result(runID string) (Phase, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished[runID], h.messages[runID]
}

type failingCamera struct{ hardware.SimCamera }

func (c *failingCamera) StartRecording(context.Context, string, hardware.RecordingOptions) error {
	return errors.New("sensor unplugged")
}

type rig struct {
	stage   *hardware.SimStage
	emitter *hardware.SimEmitter
	camera  *hardware.SimCamera
	history *fakeHistory
	hub     *events.EventHub
	out     string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	orig := holdTick
	holdTick = 5 * time.Millisecond
	t.Cleanup(func() { holdTick = orig })

	return &rig{
		stage:   hardware.NewSimStage(wellgrid.Point{}),
		emitter: hardware.NewSimEmitter(false),
		camera:  hardware.NewSimCamera(),
		history: newFakeHistory(),
		hub:     events.NewEventHub(),
		out:     t.TempDir(),
	}
}

func (r *rig) runner() *Runner {
	return NewRunner(
		Devices{Stage: r.stage, Emitter: r.emitter, Camera: r.camera},
		RunnerOptions{OutputDir: r.out, Hub: r.hub, History: r.history},
	)
}

func videoPlan(t *testing.T, phaseSeconds float64) *Plan {
	t.Helper()
	plan, err := BuildPlan(testCalibration(t, 2, 2), Settings{
		CalibrationFile: "plate.json",
		SelectedWells:   []string{"A1", "A2", "B1", "B2"},
		ExperimentName:  "run",
		ActionPhases: []ActionPhase{
			{Action: ActionGPIOOn, Time: phaseSeconds},
			{Action: ActionGPIOOff, Time: phaseSeconds},
		},
	}, testMotion)
	require.NoError(t, err)
	return plan
}

func TestRunnerVideoRun(t *testing.T) {
	rg := newRig(t)
	sub := rg.hub.Subscribe()
	defer rg.hub.Unsubscribe(sub)

	r := rg.runner()
	plan := videoPlan(t, 0.01)

	runID, err := r.Start(context.Background(), plan)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, runID, st.RunID)
	assert.Equal(t, 4, st.Index)
	assert.Equal(t, 4, st.Total)
	assert.Empty(t, st.CurrentWell)

	var labels []string
	for _, p := range rg.stage.Moves() {
		for _, w := range plan.Wells {
			if w.Position == p {
				labels = append(labels, w.Label)
			}
		}
	}
	assert.Equal(t, []string{"A1", "A2", "B2", "B1"}, labels)
	assert.Equal(t, testMotion.BetweenWells.Acceleration, rg.stage.Acceleration())

	switches := rg.emitter.Switches()
	require.NotEmpty(t, switches)
	assert.False(t, switches[len(switches)-1])
	assert.False(t, rg.emitter.On())
	// on, off, off at the end of the well, for every well, then off at the end.
	assert.Len(t, switches, 4*3+1)

	videos := rg.camera.Files()
	require.Len(t, videos, 4)
	for _, v := range videos {
		assert.FileExists(t, MetadataPath(v))
	}

	entries, err := os.ReadDir(st.OutputFolder)
	require.NoError(t, err)
	var points, profile int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".csv":
			points++
		case ".json":
			if strings.HasSuffix(e.Name(), "_profile.json") {
				profile++
			}
		}
	}
	assert.Equal(t, 1, points)
	assert.Equal(t, 1, profile)

	assert.Equal(t, []string{"A1", "A2", "B2", "B1"}, rg.history.visits)
	phase, _ := rg.history.result(runID)
	assert.Equal(t, PhaseCompleted, phase)

	var transitions []string
	var wells int
	for len(sub) > 0 {
		ev := <-sub
		switch ev.Name {
		case events.ExperimentPhase:
			p, err := events.DecodeAs[events.ExperimentPhaseEvent](ev)
			require.NoError(t, err)
			transitions = append(transitions, p.To)
		case events.ExperimentWell:
			wells++
		}
	}
	assert.Equal(t, []string{"homing", "running", "completed"}, transitions)
	assert.Equal(t, 4, wells)
}

func TestRunnerConvertsRecordings(t *testing.T) {
	rg := newRig(t)
	// The last well fails to convert and keeps only its raw recording.
	calls := withFakeFFmpeg(t, func(input string) bool { return strings.Contains(input, "_B1") })

	r := rg.runner()
	plan := videoPlan(t, 0.01)
	plan.Settings.ConvertToMP4 = true

	_, err := r.Start(context.Background(), plan)
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, PhaseCompleted, r.Status().Phase)
	assert.Len(t, calls.all(), 4)
	for _, v := range rg.camera.Files() {
		assert.FileExists(t, v)
		if strings.Contains(v, "_B1") {
			assert.NoFileExists(t, MP4Path(v))
		} else {
			assert.FileExists(t, MP4Path(v))
		}
	}
}

func TestRunnerSkipsConversionByDefault(t *testing.T) {
	rg := newRig(t)
	calls := withFakeFFmpeg(t, nil)

	r := rg.runner()
	_, err := r.Start(context.Background(), videoPlan(t, 0.01))
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, PhaseCompleted, r.Status().Phase)
	assert.Empty(t, calls.all())
}

func TestRunnerImageRun(t *testing.T) {
	rg := newRig(t)
	r := rg.runner()

	plan, err := BuildPlan(testCalibration(t, 2, 1), Settings{
		CalibrationFile: "plate.json",
		SelectedWells:   []string{"A1", "A2"},
		ExperimentName:  "stills",
		CaptureMode:     ModeImage,
		ExportType:      ExportJPEG,
		ActionPhases: []ActionPhase{
			{Action: ActionCapture},
			{Action: ActionGPIOOn},
			{Action: ActionDelay, Time: 0.01},
			{Action: ActionCapture},
		},
	}, testMotion)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), plan)
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, PhaseCompleted, r.Status().Phase)

	files := rg.camera.Files()
	require.Len(t, files, 4)
	assert.Regexp(t, `_stills_A1_GPIO_OFF_img1\.jpg$`, files[0])
	assert.Regexp(t, `_stills_A1_GPIO_ON_img2\.jpg$`, files[1])
	assert.Regexp(t, `_stills_A2_GPIO_OFF_img1\.jpg$`, files[2])
	assert.False(t, rg.emitter.On())
}

func TestRunnerPauseResume(t *testing.T) {
	rg := newRig(t)
	rg.stage.MoveDuration = 20 * time.Millisecond
	r := rg.runner()

	_, err := r.Start(context.Background(), videoPlan(t, 0.01))
	require.NoError(t, err)
	require.NoError(t, r.Pause())
	require.NoError(t, r.Pause())

	require.Eventually(t, func() bool { return r.Status().Phase == PhasePaused }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rg.stage.Moves(), "paused run must not move")

	require.NoError(t, r.Resume())
	r.Wait()
	assert.Equal(t, PhaseCompleted, r.Status().Phase)
	assert.Len(t, rg.stage.Moves(), 4)
}

func TestRunnerStop(t *testing.T) {
	rg := newRig(t)
	r := rg.runner()

	runID, err := r.Start(context.Background(), videoPlan(t, 10))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rg.emitter.On() }, time.Second, 5*time.Millisecond)

	_, err = r.Start(context.Background(), videoPlan(t, 10))
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, r.Stop())
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, rg.emitter.On())
	phase, msg := rg.history.result(runID)
	assert.Equal(t, PhaseStopped, phase)
	assert.NotEmpty(t, msg)

	assert.ErrorIs(t, r.Stop(), ErrNotRunning)
	assert.ErrorIs(t, r.Pause(), ErrNotRunning)
	assert.ErrorIs(t, r.Resume(), ErrNotRunning)

	// A finished runner accepts a new run.
	_, err = r.Start(context.Background(), videoPlan(t, 0))
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, PhaseCompleted, r.Status().Phase)
}

func TestRunnerDeviceError(t *testing.T) {
	rg := newRig(t)
	r := NewRunner(
		Devices{Stage: rg.stage, Emitter: rg.emitter, Camera: &failingCamera{}},
		RunnerOptions{OutputDir: rg.out, History: rg.history},
	)

	runID, err := r.Start(context.Background(), videoPlan(t, 0.01))
	require.NoError(t, err)
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Contains(t, st.Message, "sensor unplugged")
	assert.Equal(t, "A1", rg.history.visits[0])
	phase, _ := rg.history.result(runID)
	assert.Equal(t, PhaseError, phase)
}

func TestRunnerIdle(t *testing.T) {
	r := newRig(t).runner()
	assert.Equal(t, PhaseIdle, r.Status().Phase)
	r.Wait()

	_, err := r.Start(context.Background(), &Plan{})
	assert.ErrorIs(t, err, ErrNoWellsSelected)
}
