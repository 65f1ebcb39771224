package experiment

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Phase is the state of the runner.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseHoming    Phase = "homing"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseStopped   Phase = "stopped"
	PhaseError     Phase = "error"
)

// Active reports whether a run is in progress in phase p.
func (p Phase) Active() bool {
	return p == PhaseHoming || p == PhaseRunning || p == PhasePaused
}

var (
	ErrRunInProgress = errors.New("an experiment is already running")
	ErrNotRunning    = errors.New("no experiment is running")
)

// Status is a snapshot of the runner.
type Status struct {
	RunID        string    `json:"runId,omitempty"`
	Phase        Phase     `json:"phase"`
	Experiment   string    `json:"experiment,omitempty"`
	Calibration  string    `json:"calibration,omitempty"`
	CurrentWell  string    `json:"currentWell,omitempty"`
	Index        int       `json:"index"`
	Total        int       `json:"total"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	Elapsed      string    `json:"elapsed"`
	Remaining    string    `json:"remaining"`
	OutputFolder string    `json:"outputFolder,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// RunRecord describes a run when it starts.
type RunRecord struct {
	ID           string
	Experiment   string
	Calibration  string
	Pattern      wellgrid.Pattern
	Mode         CaptureMode
	WellsTotal   int
	OutputFolder string
	StartedAt    time.Time
}

// History records runs and the wells they visit.
type History interface {
	CreateRun(ctx context.Context, r RunRecord) error
	RecordVisit(ctx context.Context, runID string, seq int, w wellgrid.Well, at time.Time) error
	FinishRun(ctx context.Context, runID string, phase Phase, message string, at time.Time) error
}

// Devices are the instruments a run drives.
type Devices struct {
	Stage   hardware.Stage
	Emitter hardware.Emitter
	Camera  hardware.Camera
}

type RunnerOptions struct {
	// OutputDir is the root under which per-experiment folders are created.
	OutputDir string
	// SettleDelay is waited after arriving at a well, before any phase.
	SettleDelay time.Duration
	// Hub receives phase and well events. Optional.
	Hub *events.EventHub
	// History records runs. Optional.
	History History
}

// holdTick bounds how long a paused run takes to notice it was paused.
var holdTick = 100 * time.Millisecond

// Runner executes one plan at a time.
type Runner struct {
	dev  Devices
	opts RunnerOptions
	now  func() time.Time

	mu       sync.Mutex
	status   Status
	plan     *Plan
	cancel   context.CancelFunc
	paused   bool
	resumeCh chan struct{}
	done     chan struct{}
}

func NewRunner(dev Devices, opts RunnerOptions) *Runner {
	return &Runner{
		dev:    dev,
		opts:   opts,
		now:    time.Now,
		status: Status{Phase: PhaseIdle, Elapsed: FormatHMS(0), Remaining: FormatHMS(0)},
	}
}

// Start prepares the output folder for plan and runs it in the background.
// ctx bounds the whole run. It returns the run ID.
func (r *Runner) Start(ctx context.Context, plan *Plan) (string, error) {
	if plan == nil || len(plan.Wells) == 0 {
		return "", ErrNoWellsSelected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Phase.Active() {
		return "", pkgerrors.Wrapf(ErrRunInProgress, "run %s is %s", r.status.RunID, r.status.Phase)
	}

	startedAt := r.now()
	s := plan.Settings
	folder := OutputFolder(r.opts.OutputDir, s.ExperimentName, startedAt)
	if _, err := SavePoints(folder, s.ExperimentName, startedAt, plan.Wells); err != nil {
		return "", err
	}
	if err := SaveSettings(filepath.Join(folder, SettingsFileName(s.ExperimentName, startedAt)), s); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	r.plan = plan
	r.cancel = cancel
	r.paused = false
	r.resumeCh = nil
	r.done = make(chan struct{})
	r.status = Status{
		RunID:        runID,
		Phase:        PhaseIdle,
		Experiment:   s.ExperimentName,
		Calibration:  s.CalibrationFile,
		Total:        len(plan.Wells),
		StartedAt:    startedAt,
		Elapsed:      FormatHMS(0),
		Remaining:    FormatHMS(plan.TotalDuration()),
		OutputFolder: folder,
	}
	r.setPhaseLocked(PhaseHoming, "")

	if r.opts.History != nil {
		err := r.opts.History.CreateRun(runCtx, RunRecord{
			ID:           runID,
			Experiment:   s.ExperimentName,
			Calibration:  s.CalibrationFile,
			Pattern:      plan.Pattern,
			Mode:         s.CaptureMode,
			WellsTotal:   len(plan.Wells),
			OutputFolder: folder,
			StartedAt:    startedAt,
		})
		if err != nil {
			logrus.WithError(err).WithField("run", runID).Warn("failed to record run")
		}
	}

	logrus.WithFields(logrus.Fields{
		"run":        runID,
		"experiment": s.ExperimentName,
		"wells":      len(plan.Wells),
		"pattern":    plan.Pattern,
		"mode":       s.CaptureMode,
		"estimate":   FormatHMS(plan.TotalDuration()),
		"folder":     folder,
	}).Info("experiment started")

	go r.run(runCtx, plan, runID, r.done)

	return runID, nil
}

// Pause holds the run at the next step boundary.
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Phase.Active() {
		return ErrNotRunning
	}
	if r.paused {
		return nil
	}
	r.paused = true
	r.resumeCh = make(chan struct{})
	r.publishAction("pause")
	if r.status.Phase == PhaseRunning {
		r.setPhaseLocked(PhasePaused, "")
	}
	return nil
}

func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Phase.Active() {
		return ErrNotRunning
	}
	if !r.paused {
		return nil
	}
	r.paused = false
	close(r.resumeCh)
	r.resumeCh = nil
	r.publishAction("resume")
	if r.status.Phase == PhasePaused {
		r.setPhaseLocked(PhaseRunning, "")
	}
	return nil
}

// Stop cancels the run. It does not wait for the run to wind down, use Wait
// for that.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Phase.Active() {
		return ErrNotRunning
	}
	r.publishAction("stop")
	r.cancel()
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) run(ctx context.Context, plan *Plan, runID string, done chan struct{}) {
	defer close(done)

	err := r.execute(ctx, plan, runID)

	// Leave the light off whatever happened.
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e := r.dev.Emitter.Switch(offCtx, false); e != nil {
		logrus.WithError(e).Warn("failed to switch emitter off")
	}

	phase, msg := PhaseCompleted, ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		phase, msg = PhaseStopped, "stopped by user"
	default:
		phase, msg = PhaseError, err.Error()
	}

	r.mu.Lock()
	if r.paused {
		close(r.resumeCh)
		r.paused = false
		r.resumeCh = nil
	}
	r.setPhaseLocked(phase, msg)
	r.status.CurrentWell = ""
	r.cancel()
	r.mu.Unlock()

	if r.opts.History != nil {
		if e := r.opts.History.FinishRun(offCtx, runID, phase, msg, r.now()); e != nil {
			logrus.WithError(e).WithField("run", runID).Warn("failed to record run result")
		}
	}

	l := logrus.WithFields(logrus.Fields{"run": runID, "phase": phase})
	if phase == PhaseError {
		l.WithError(err).Error("experiment failed")
	} else {
		l.Info("experiment finished")
	}
}

func (r *Runner) execute(ctx context.Context, plan *Plan, runID string) error {
	stage := r.dev.Stage

	if err := stage.SetAcceleration(ctx, plan.Motion.Preliminary.Acceleration); err != nil {
		return pkgerrors.Wrap(err, "failed to set acceleration")
	}
	if err := stage.Home(ctx); err != nil {
		return pkgerrors.Wrap(err, "failed to home stage")
	}

	r.mu.Lock()
	if r.paused {
		r.setPhaseLocked(PhasePaused, "")
	} else {
		r.setPhaseLocked(PhaseRunning, "")
	}
	r.mu.Unlock()

	for i, w := range plan.Wells {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		// The first move travels from home with the preliminary profile.
		feedrate := plan.Motion.BetweenWells.Feedrate
		if i == 0 {
			feedrate = plan.Motion.Preliminary.Feedrate
		}
		if err := stage.MoveTo(ctx, w.Position, feedrate); err != nil {
			return pkgerrors.Wrapf(err, "failed to move to %s", w.Label)
		}
		if i == 0 {
			if err := stage.SetAcceleration(ctx, plan.Motion.BetweenWells.Acceleration); err != nil {
				return pkgerrors.Wrap(err, "failed to set acceleration")
			}
		}

		r.arrive(plan, runID, i, w)

		if err := r.hold(ctx, r.opts.SettleDelay); err != nil {
			return err
		}

		var err error
		if plan.Mode() == ModeImage {
			err = r.imageWell(ctx, plan, w)
		} else {
			err = r.videoWell(ctx, plan, w)
		}
		if e := r.dev.Emitter.Switch(context.WithoutCancel(ctx), false); e != nil && err == nil {
			err = pkgerrors.Wrap(e, "failed to switch emitter off")
		}
		if err != nil {
			return err
		}

		r.mu.Lock()
		r.status.Remaining = FormatHMS(time.Duration(len(plan.Wells)-i-1) * plan.WellDuration())
		r.mu.Unlock()
	}

	return nil
}

func (r *Runner) arrive(plan *Plan, runID string, i int, w wellgrid.Well) {
	now := r.now()

	r.mu.Lock()
	r.status.CurrentWell = w.Label
	r.status.Index = i + 1
	r.status.Elapsed = FormatHMS(now.Sub(r.status.StartedAt))
	r.mu.Unlock()

	r.opts.Hub.Publish(events.ExperimentWell, events.ExperimentWellEvent{
		RunID: runID,
		Label: w.Label,
		Index: i + 1,
		Total: len(plan.Wells),
		X:     w.Position.X,
		Y:     w.Position.Y,
		Z:     w.Position.Z,
		Ts:    now.Unix(),
	})

	if r.opts.History != nil {
		if err := r.opts.History.RecordVisit(context.Background(), runID, i+1, w, now); err != nil {
			logrus.WithError(err).WithField("well", w.Label).Warn("failed to record visit")
		}
	}

	logrus.WithFields(logrus.Fields{
		"well":     w.Label,
		"index":    i + 1,
		"total":    len(plan.Wells),
		"position": w.Position,
	}).Info("arrived at well")
}

func (r *Runner) videoWell(ctx context.Context, plan *Plan, w wellgrid.Well) error {
	s := plan.Settings
	folder := r.Status().OutputFolder
	at := r.now()
	path := filepath.Join(folder, VideoFileName(s.ExperimentName, w.Label, at))

	opts := hardware.RecordingOptions{Width: s.Resolution[0], Height: s.Resolution[1], FPS: s.FPS}
	if err := r.dev.Camera.StartRecording(ctx, path, opts); err != nil {
		return pkgerrors.Wrapf(err, "failed to start recording %s", w.Label)
	}

	recording := true
	defer func() {
		if !recording {
			return
		}
		if _, e := r.dev.Camera.StopRecording(context.WithoutCancel(ctx)); e != nil {
			logrus.WithError(e).Warn("failed to stop recording")
		}
	}()

	for _, ph := range s.ActionPhases {
		if err := r.dev.Emitter.Switch(ctx, ph.Action == ActionGPIOOn); err != nil {
			return pkgerrors.Wrapf(err, "failed to switch emitter at %s", w.Label)
		}
		if err := r.hold(ctx, ph.Duration(ModeVideo)); err != nil {
			return err
		}
	}

	recording = false
	actual, err := r.dev.Camera.StopRecording(ctx)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to stop recording %s", w.Label)
	}

	meta := NewVideoMetadata(path, w.Label, s.FPS, s.Resolution, plan.WellDuration(), actual, s.ExportType, at)
	if meta.DurationMismatch() {
		logrus.WithFields(logrus.Fields{
			"well":     w.Label,
			"expected": meta.DurationSeconds,
			"actual":   meta.ActualDurationSeconds,
		}).Warn("recording duration differs from planned duration")
	}
	if _, err := WriteVideoMetadata(path, meta); err != nil {
		return err
	}

	if s.ConvertToMP4 {
		// A failed conversion leaves the raw recording in place.
		if _, err := ConvertToMP4(ctx, path); err != nil {
			logrus.WithError(err).WithField("well", w.Label).Warn("failed to convert recording to mp4")
		}
	}
	return nil
}

func (r *Runner) imageWell(ctx context.Context, plan *Plan, w wellgrid.Well) error {
	s := plan.Settings
	folder := r.Status().OutputFolder
	n := 0

	for _, ph := range s.ActionPhases {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		switch ph.Action {
		case ActionGPIOOn, ActionGPIOOff:
			if err := r.dev.Emitter.Switch(ctx, ph.Action == ActionGPIOOn); err != nil {
				return pkgerrors.Wrapf(err, "failed to switch emitter at %s", w.Label)
			}
		case ActionDelay:
			if err := r.hold(ctx, ph.Duration(ModeImage)); err != nil {
				return err
			}
		case ActionCapture:
			n++
			path := filepath.Join(folder, ImageFileName(s.ExperimentName, w.Label, r.now(), r.dev.Emitter.On(), n, s.ExportType))
			if err := r.dev.Camera.CaptureImage(ctx, path); err != nil {
				return pkgerrors.Wrapf(err, "failed to capture image at %s", w.Label)
			}
			logrus.WithField("file", path).Debug("image captured")
		}
	}
	return nil
}

// checkpoint blocks while the run is paused.
func (r *Runner) checkpoint(ctx context.Context) error {
	r.mu.Lock()
	ch := r.resumeCh
	r.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hold waits for d of unpaused time.
func (r *Runner) hold(ctx context.Context, d time.Duration) error {
	for d > 0 {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		step := min(d, holdTick)
		t := time.NewTimer(step)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		d -= step
	}
	return ctx.Err()
}

func (r *Runner) publishAction(action string) {
	r.opts.Hub.Publish(events.ExperimentAction, events.ActionEvent{
		Action: action,
		Ts:     r.now().Unix(),
	})
}

func (r *Runner) setPhaseLocked(to Phase, msg string) {
	from := r.status.Phase
	r.status.Phase = to
	r.status.Message = msg
	if !r.status.StartedAt.IsZero() {
		r.status.Elapsed = FormatHMS(r.now().Sub(r.status.StartedAt))
	}
	if from == to {
		return
	}
	r.opts.Hub.Publish(events.ExperimentPhase, events.ExperimentPhaseEvent{
		RunID:   r.status.RunID,
		From:    string(from),
		To:      string(to),
		Message: msg,
		Ts:      r.now().Unix(),
	})
	logrus.WithFields(logrus.Fields{
		"run":  r.status.RunID,
		"from": from,
		"to":   to,
	}).Debug("experiment phase changed")
}
