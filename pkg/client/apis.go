package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/store"
	"github.com/robocam-suite/robocam/pkg/types"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func sendJSON[T any](c *Client, method, path string, body any, what string) (*T, error) {
	data := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to marshal %s request", what)
		}
		data = string(b)
	}
	ret, err := c.Send(method, path, data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s response", what)
	}
	return &v, nil
}

func (c *Client) GetVersion() (string, error) {
	v, err := getJSON[string](c, "/version", "version")
	if err != nil {
		return "", err
	}
	return *v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) GetStatus() (*types.Status, error) {
	return getJSON[types.Status](c, "/status", "status")
}

func (c *Client) GetMotionProfiles() (map[string]config.MotionProfile, error) {
	p, err := getJSON[map[string]config.MotionProfile](c, "/motion-profiles", "motion profiles")
	if err != nil {
		return nil, err
	}
	return *p, nil
}

// ===== Stage and laser =====

func (c *Client) GetPosition() (*wellgrid.Point, error) {
	return getJSON[wellgrid.Point](c, "/position", "stage position")
}

func (c *Client) Home() (*wellgrid.Point, error) {
	return sendJSON[wellgrid.Point](c, "POST", "/home", nil, "home stage")
}

func (c *Client) Move(req types.MoveRequest) (*wellgrid.Point, error) {
	return sendJSON[wellgrid.Point](c, "POST", "/move", req, "move stage")
}

func (c *Client) SetLaser(on bool) (string, error) {
	return c.Put("/laser", strconv.FormatBool(on))
}

func (c *Client) GetLaser() (bool, error) {
	ret, err := c.Get("/laser")
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to get laser state")
	}
	return parseBoolResponse(ret)
}

func (c *Client) GenerateGrid(req types.GridRequest) (*types.GridResponse, error) {
	return sendJSON[types.GridResponse](c, "POST", "/grid", req, "generate grid")
}

// ===== Calibration =====

func (c *Client) GetCalibration() (*calibration.Status, error) {
	return getJSON[calibration.Status](c, "/calibration", "calibration status")
}

func (c *Client) GetCalibrationGrid() ([]wellgrid.Well, error) {
	w, err := getJSON[[]wellgrid.Well](c, "/calibration/grid", "calibration grid")
	if err != nil {
		return nil, err
	}
	return *w, nil
}

func (c *Client) SetCalibrationGrid(columns, rows int) (*calibration.Status, error) {
	req := map[string]int{"columns": columns, "rows": rows}
	return sendJSON[calibration.Status](c, "PUT", "/calibration/grid", req, "set calibration grid")
}

// SetCorner records corner at p. A nil p records the current stage position.
func (c *Client) SetCorner(corner calibration.Corner, p *wellgrid.Point) (*calibration.Status, error) {
	var body any
	if p != nil {
		body = p
	}
	return sendJSON[calibration.Status](c, "POST", "/calibration/corners/"+url.PathEscape(string(corner)), body, "set corner "+string(corner))
}

func (c *Client) SaveCalibration(name string) (*types.SaveCalibrationResponse, error) {
	return sendJSON[types.SaveCalibrationResponse](c, "POST", "/calibration/save", types.SaveCalibrationRequest{Name: name}, "save calibration")
}

func (c *Client) ResetCalibration() (*calibration.Status, error) {
	return sendJSON[calibration.Status](c, "POST", "/calibration/reset", nil, "reset calibration")
}

func (c *Client) ListCalibrations() ([]calibration.FileInfo, error) {
	l, err := getJSON[[]calibration.FileInfo](c, "/calibrations", "calibrations")
	if err != nil {
		return nil, err
	}
	return *l, nil
}

// ===== Experiments =====

func (c *Client) StartExperiment(s experiment.Settings) (*types.StartExperimentResponse, error) {
	return sendJSON[types.StartExperimentResponse](c, "POST", "/experiment/start", s, "start experiment")
}

func (c *Client) PauseExperiment() (*experiment.Status, error) {
	return sendJSON[experiment.Status](c, "POST", "/experiment/pause", nil, "pause experiment")
}

func (c *Client) ResumeExperiment() (*experiment.Status, error) {
	return sendJSON[experiment.Status](c, "POST", "/experiment/resume", nil, "resume experiment")
}

func (c *Client) StopExperiment() (*experiment.Status, error) {
	return sendJSON[experiment.Status](c, "POST", "/experiment/stop", nil, "stop experiment")
}

func (c *Client) GetExperiment() (*experiment.Status, error) {
	return getJSON[experiment.Status](c, "/experiment", "experiment status")
}

// RunDetail is a recorded run with the wells it visited.
type RunDetail struct {
	Run    store.Run     `json:"run"`
	Visits []store.Visit `json:"visits"`
}

func (c *Client) ListRuns(limit int) ([]store.Run, error) {
	runs, err := getJSON[[]store.Run](c, "/runs?limit="+strconv.Itoa(limit), "runs")
	if err != nil {
		return nil, err
	}
	return *runs, nil
}

func (c *Client) GetRun(id string) (*RunDetail, error) {
	return getJSON[RunDetail](c, "/runs/"+url.PathEscape(id), "run "+id)
}

// ===== Schedule =====

func (c *Client) GetSchedule() (*types.ScheduleStatus, error) {
	return getJSON[types.ScheduleStatus](c, "/schedule", "schedule")
}

func (c *Client) SetSchedule(req types.ScheduleRequest) (*types.ScheduleStatus, error) {
	return sendJSON[types.ScheduleStatus](c, "PUT", "/schedule", req, "set schedule")
}

func (c *Client) PostponeSchedule(d time.Duration) (*types.ScheduleStatus, error) {
	return sendJSON[types.ScheduleStatus](c, "POST", "/schedule/postpone", types.PostponeRequest{Duration: d.String()}, "postpone schedule")
}

func (c *Client) SkipSchedule() (*types.ScheduleStatus, error) {
	return sendJSON[types.ScheduleStatus](c, "POST", "/schedule/skip", nil, "skip schedule")
}

func parseBoolResponse(resp string) (bool, error) {
	switch resp {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, pkgerrors.Errorf("unexpected response: %s", resp)
	}
}
