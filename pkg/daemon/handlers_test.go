package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/store"
	"github.com/robocam-suite/robocam/pkg/types"
	"github.com/robocam-suite/robocam/pkg/utils/ptr"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

func setupTestDaemon(t *testing.T) *gin.Engine {
	t.Helper()
	dir := t.TempDir()

	conf = config.NewFileFromConfig(&config.RawFileConfig{
		CalibrationDir:           ptr.To(filepath.Join(dir, "calibrations")),
		OutputDir:                ptr.To(filepath.Join(dir, "outputs")),
		PreRecordingDelaySeconds: ptr.To(0.0),
	}, filepath.Join(dir, "robocam.json"))

	sseHub = events.NewEventHub()
	session = calibration.NewSession()
	calStore = calibration.NewStore(conf.CalibrationDir())
	rootCtx = context.Background()

	var err error
	history, err = store.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}

	if err := setupDevices(conf); err != nil {
		t.Fatalf("failed to set up devices: %v", err)
	}
	setupRunner(conf)

	scheduler = NewScheduler(runScheduledExperiment, scheduledPreCheck, nil, nil)
	scheduler.Start()

	t.Cleanup(func() {
		if runner.Status().Phase.Active() {
			_ = runner.Stop()
		}
		runner.Wait()
		scheduler.Stop()
		_ = history.Close()
	})

	return setupRoutes()
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected status %d, got %d: %s", code, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestVersionAndConfig(t *testing.T) {
	r := setupTestDaemon(t)

	w := do(t, r, "GET", "/version", "")
	expectStatus(t, w, http.StatusOK)

	w = do(t, r, "GET", "/config", "")
	expectStatus(t, w, http.StatusOK)
	raw := decode[config.RawFileConfig](t, w)
	if raw.OutputDir == nil || !strings.HasSuffix(*raw.OutputDir, "outputs") {
		t.Fatalf("unexpected output dir in config: %v", raw.OutputDir)
	}

	w = do(t, r, "GET", "/motion-profiles", "")
	expectStatus(t, w, http.StatusOK)
	profiles := decode[map[string]config.MotionProfile](t, w)
	if _, ok := profiles[config.DefaultMotionProfile]; !ok {
		t.Fatalf("default motion profile missing: %v", profiles)
	}

	w = do(t, r, "GET", "/status", "")
	expectStatus(t, w, http.StatusOK)
	st := decode[types.Status](t, w)
	if st.Experiment.Phase != experiment.PhaseIdle {
		t.Fatalf("expected idle experiment, got %s", st.Experiment.Phase)
	}
	if st.Calibration != calibration.PhaseCollecting {
		t.Fatalf("expected collecting calibration, got %s", st.Calibration)
	}
}

func TestMoveWithinLimits(t *testing.T) {
	r := setupTestDaemon(t)

	w := do(t, r, "POST", "/home", "")
	expectStatus(t, w, http.StatusCreated)

	w = do(t, r, "POST", "/move", `{"x":10,"y":100,"z":120}`)
	expectStatus(t, w, http.StatusCreated)

	w = do(t, r, "POST", "/move", `{"x":5,"relative":true}`)
	expectStatus(t, w, http.StatusCreated)

	w = do(t, r, "GET", "/position", "")
	expectStatus(t, w, http.StatusOK)
	pos := decode[wellgrid.Point](t, w)
	if pos != (wellgrid.Point{X: 15, Y: 100, Z: 120}) {
		t.Fatalf("unexpected position %v", pos)
	}

	w = do(t, r, "POST", "/move", `{"x":500,"y":100,"z":120}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, r, "POST", "/move", `not json`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestLaser(t *testing.T) {
	r := setupTestDaemon(t)

	expectStatus(t, do(t, r, "PUT", "/laser", "true"), http.StatusCreated)
	w := do(t, r, "GET", "/laser", "")
	expectStatus(t, w, http.StatusOK)
	if !decode[bool](t, w) {
		t.Fatalf("expected laser on")
	}

	expectStatus(t, do(t, r, "PUT", "/laser", "false"), http.StatusCreated)
	if emitter.On() {
		t.Fatalf("expected laser off")
	}
}

func TestGenerateGrid(t *testing.T) {
	r := setupTestDaemon(t)

	body := `{"columns":3,"rows":2,"pattern":"raster","corners":{
		"upperLeft":{"x":0,"y":10,"z":1},"lowerLeft":{"x":0,"y":0,"z":1},
		"upperRight":{"x":20,"y":10,"z":1},"lowerRight":{"x":20,"y":0,"z":1}}}`
	w := do(t, r, "POST", "/grid", body)
	expectStatus(t, w, http.StatusOK)
	g := decode[types.GridResponse](t, w)
	if len(g.Wells) != 6 || len(g.Sequence) != 6 {
		t.Fatalf("expected 6 wells, got %d/%d", len(g.Wells), len(g.Sequence))
	}
	if g.Wells[1].Position.X != 10 {
		t.Fatalf("expected A2 at x=10, got %v", g.Wells[1].Position)
	}
	if g.Sequence[3].Label != "B1" {
		t.Fatalf("expected raster order, got %s at index 3", g.Sequence[3].Label)
	}

	w = do(t, r, "POST", "/grid", `{"columns":3,"rows":27}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, r, "POST", "/grid", `{"columns":3,"rows":2,"pattern":"spiral"}`)
	expectStatus(t, w, http.StatusBadRequest)
}

// calibrate runs a complete 2x2 calibration and returns the saved file name.
func calibrate(t *testing.T, r http.Handler) string {
	t.Helper()

	expectStatus(t, do(t, r, "PUT", "/calibration/grid", `{"columns":2,"rows":2}`), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/calibration/corners/upper_left", `{"x":10,"y":120,"z":120}`), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/calibration/corners/lower-left", `{"x":10,"y":100,"z":120}`), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/calibration/corners/upper_right", `{"x":40,"y":120,"z":120}`), http.StatusCreated)

	// Capture the last corner from the stage.
	expectStatus(t, do(t, r, "POST", "/move", `{"x":40,"y":100,"z":121}`), http.StatusCreated)
	w := do(t, r, "POST", "/calibration/corners/lower_right", "")
	expectStatus(t, w, http.StatusCreated)
	st := decode[calibration.Status](t, w)
	if st.Phase != calibration.PhaseReady {
		t.Fatalf("expected Ready, got %s (%s)", st.Phase, st.Message)
	}
	if st.Corners[calibration.LowerRight].Z != 121 {
		t.Fatalf("expected corner from stage position, got %v", st.Corners[calibration.LowerRight])
	}

	w = do(t, r, "POST", "/calibration/save", `{"name":"plate"}`)
	expectStatus(t, w, http.StatusCreated)
	saved := decode[types.SaveCalibrationResponse](t, w)
	if saved.Wells != 4 {
		t.Fatalf("expected 4 wells, got %d", saved.Wells)
	}
	return saved.File
}

func TestCalibrationFlow(t *testing.T) {
	r := setupTestDaemon(t)

	expectStatus(t, do(t, r, "POST", "/calibration/save", `{"name":"plate"}`), http.StatusBadRequest)
	expectStatus(t, do(t, r, "POST", "/calibration/corners/middle", `{"x":1,"y":1,"z":1}`), http.StatusBadRequest)
	expectStatus(t, do(t, r, "PUT", "/calibration/grid", `{"columns":0,"rows":2}`), http.StatusBadRequest)

	file := calibrate(t, r)

	w := do(t, r, "GET", "/calibration", "")
	expectStatus(t, w, http.StatusOK)
	if st := decode[calibration.Status](t, w); st.Phase != calibration.PhaseSaved || st.SavedFile != file {
		t.Fatalf("expected Saved as %s, got %s %s", file, st.Phase, st.SavedFile)
	}

	w = do(t, r, "GET", "/calibration/grid", "")
	expectStatus(t, w, http.StatusOK)
	if wells := decode[[]wellgrid.Well](t, w); len(wells) != 4 {
		t.Fatalf("expected 4 wells, got %d", len(wells))
	}

	w = do(t, r, "GET", "/calibrations", "")
	expectStatus(t, w, http.StatusOK)
	infos := decode[[]calibration.FileInfo](t, w)
	if len(infos) != 1 || infos[0].File != file {
		t.Fatalf("unexpected calibrations: %v", infos)
	}

	expectStatus(t, do(t, r, "POST", "/calibration/save", `{"name":"../plate"}`), http.StatusBadRequest)

	expectStatus(t, do(t, r, "POST", "/calibration/reset", ""), http.StatusCreated)
	if st := session.Status(); st.Phase != calibration.PhaseCollecting {
		t.Fatalf("expected Collecting after reset, got %s", st.Phase)
	}
}

func TestExperimentFlow(t *testing.T) {
	r := setupTestDaemon(t)
	file := calibrate(t, r)

	expectStatus(t, do(t, r, "POST", "/experiment/pause", ""), http.StatusConflict)

	settings := `{"calibration_file":"` + file + `","selected_wells":["B2","A1","A2"],
		"action_phases":[{"action":"GPIO ON","time":0},{"action":"GPIO OFF","time":0}],
		"experiment_name":"flow"}`
	w := do(t, r, "POST", "/experiment/start", settings)
	expectStatus(t, w, http.StatusCreated)
	started := decode[types.StartExperimentResponse](t, w)
	if strings.Join(started.Wells, ",") != "A1,A2,B2" {
		t.Fatalf("expected snake order, got %v", started.Wells)
	}
	runner.Wait()

	w = do(t, r, "GET", "/experiment", "")
	expectStatus(t, w, http.StatusOK)
	if st := decode[experiment.Status](t, w); st.Phase != experiment.PhaseCompleted {
		t.Fatalf("expected completed, got %s (%s)", st.Phase, st.Message)
	}

	w = do(t, r, "GET", "/runs?limit=5", "")
	expectStatus(t, w, http.StatusOK)
	runs := decode[[]store.Run](t, w)
	if len(runs) != 1 || runs[0].ID != started.RunID || runs[0].WellsVisited != 3 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	w = do(t, r, "GET", "/runs/"+started.RunID, "")
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, do(t, r, "GET", "/runs/nope", ""), http.StatusNotFound)
	expectStatus(t, do(t, r, "GET", "/runs?limit=x", ""), http.StatusBadRequest)

	bad := strings.Replace(settings, `"experiment_name":"flow"`, `"experiment_name":"flow","motion_config_profile":"warp"`, 1)
	expectStatus(t, do(t, r, "POST", "/experiment/start", bad), http.StatusBadRequest)

	missing := strings.Replace(settings, file, "20000101_000000_gone.json", 1)
	expectStatus(t, do(t, r, "POST", "/experiment/start", missing), http.StatusNotFound)

	unknown := strings.Replace(settings, `"B2"`, `"H12"`, 1)
	expectStatus(t, do(t, r, "POST", "/experiment/start", unknown), http.StatusBadRequest)
}

func TestManualControlBlockedDuringRun(t *testing.T) {
	r := setupTestDaemon(t)
	file := calibrate(t, r)

	settings := `{"calibration_file":"` + file + `","selected_wells":["A1"],
		"action_phases":[{"action":"GPIO ON","time":30}]}`
	expectStatus(t, do(t, r, "POST", "/experiment/start", settings), http.StatusCreated)

	expectStatus(t, do(t, r, "POST", "/experiment/start", settings), http.StatusConflict)
	expectStatus(t, do(t, r, "POST", "/move", `{"x":10,"y":100,"z":120}`), http.StatusConflict)
	expectStatus(t, do(t, r, "PUT", "/laser", "true"), http.StatusConflict)

	expectStatus(t, do(t, r, "POST", "/experiment/pause", ""), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/experiment/resume", ""), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/experiment/stop", ""), http.StatusCreated)
	runner.Wait()

	if st := runner.Status(); st.Phase != experiment.PhaseStopped {
		t.Fatalf("expected stopped, got %s", st.Phase)
	}
	if emitter.On() {
		t.Fatalf("laser must be off after stop")
	}
}

func TestScheduleHandlers(t *testing.T) {
	r := setupTestDaemon(t)

	settingsPath := filepath.Join(t.TempDir(), "weekly.json")
	err := experiment.SaveSettings(settingsPath, experiment.Settings{
		CalibrationFile: "plate.json",
		SelectedWells:   []string{"A1"},
	}.WithDefaults())
	if err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}

	expectStatus(t, do(t, r, "PUT", "/schedule", `{"cron":"0 10 * * 0"}`), http.StatusBadRequest)
	expectStatus(t, do(t, r, "PUT", "/schedule", `{"cron":"sometimes","settings":"`+settingsPath+`"}`), http.StatusBadRequest)
	expectStatus(t, do(t, r, "POST", "/schedule/skip", ""), http.StatusConflict)

	w := do(t, r, "PUT", "/schedule", `{"cron":"0 10 * * 0","settings":"`+settingsPath+`"}`)
	expectStatus(t, w, http.StatusCreated)
	st := decode[types.ScheduleStatus](t, w)
	if !st.Enabled || len(st.NextRuns) != scheduleNextRuns {
		t.Fatalf("unexpected schedule status: %+v", st)
	}
	if st.NextRuns[0].Weekday() != time.Sunday {
		t.Fatalf("expected a Sunday run, got %v", st.NextRuns[0])
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(conf.CalibrationDir()), "robocam.json"))
	if err != nil {
		t.Fatalf("config was not saved: %v", err)
	}
	if !strings.Contains(string(b), "0 10 * * 0") {
		t.Fatalf("saved config lacks cron: %s", b)
	}

	w = do(t, r, "POST", "/schedule/skip", "")
	expectStatus(t, w, http.StatusCreated)
	if skipped := decode[types.ScheduleStatus](t, w); !skipped.NextRuns[0].Equal(st.NextRuns[1]) {
		t.Fatalf("expected skip to move to %v, got %v", st.NextRuns[1], skipped.NextRuns[0])
	}

	expectStatus(t, do(t, r, "POST", "/schedule/postpone", `{"duration":"1h"}`), http.StatusCreated)
	expectStatus(t, do(t, r, "POST", "/schedule/postpone", `{"duration":"soon"}`), http.StatusBadRequest)
	expectStatus(t, do(t, r, "POST", "/schedule/postpone", `{"duration":"720h"}`), http.StatusBadRequest)

	w = do(t, r, "PUT", "/schedule", `{"cron":""}`)
	expectStatus(t, w, http.StatusCreated)
	if off := decode[types.ScheduleStatus](t, w); off.Enabled {
		t.Fatalf("expected schedule disabled, got %+v", off)
	}
}

func TestScheduledPreCheck(t *testing.T) {
	r := setupTestDaemon(t)
	if err := scheduledPreCheck(); err != nil {
		t.Fatalf("expected precheck to pass while idle: %v", err)
	}

	file := calibrate(t, r)
	settings := `{"calibration_file":"` + file + `","selected_wells":["A1"],
		"action_phases":[{"action":"GPIO ON","time":30}]}`
	expectStatus(t, do(t, r, "POST", "/experiment/start", settings), http.StatusCreated)

	if err := scheduledPreCheck(); err == nil {
		t.Fatalf("expected precheck to fail while an experiment runs")
	}
}

func TestEventStream(t *testing.T) {
	r := setupTestDaemon(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event:ping")

	if resp, err := http.Post(srv.URL+"/calibration/corners/upper_left", "application/json",
		strings.NewReader(`{"x":1,"y":2,"z":3}`)); err != nil {
		t.Fatalf("failed to set corner: %v", err)
	} else {
		resp.Body.Close()
	}

	waitFor("event:" + events.CalibrationChange)
	data := waitFor("data:")
	ev := events.Event{Data: json.RawMessage(strings.TrimPrefix(data, "data:"))}
	payload, err := events.DecodeAs[events.CalibrationChangeEvent](ev)
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if payload.Corner != string(calibration.UpperLeft) {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}
