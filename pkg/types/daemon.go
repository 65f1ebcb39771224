package types

import (
	"time"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// SaveCalibrationRequest is the body of POST /calibration/save.
type SaveCalibrationRequest struct {
	Name string `json:"name"`
}

// SaveCalibrationResponse is returned by POST /calibration/save.
type SaveCalibrationResponse struct {
	File  string `json:"file"`
	Wells int    `json:"wells"`
}

// StartExperimentResponse is returned by POST /experiment/start.
type StartExperimentResponse struct {
	RunID        string   `json:"runId"`
	Wells        []string `json:"wells"`
	Estimate     string   `json:"estimate"`
	OutputFolder string   `json:"outputFolder"`
}

// ScheduleRequest is the body of PUT /schedule. An empty Cron disables the
// schedule.
type ScheduleRequest struct {
	Cron     string `json:"cron"`
	Settings string `json:"settings,omitempty"`
}

// ScheduleStatus is returned by GET and PUT /schedule.
type ScheduleStatus struct {
	Cron     string      `json:"cron"`
	Settings string      `json:"settings,omitempty"`
	Enabled  bool        `json:"enabled"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
}

// PostponeRequest is the body of POST /schedule/postpone.
type PostponeRequest struct {
	Duration string `json:"duration"`
}

// Status is a summary of the daemon, returned by GET /status.
type Status struct {
	Version     string            `json:"version"`
	Position    wellgrid.Point    `json:"position"`
	Laser       bool              `json:"laser"`
	Camera      string            `json:"camera"`
	Calibration calibration.Phase `json:"calibration"`
	Experiment  experiment.Status `json:"experiment"`
	Schedule    ScheduleStatus    `json:"schedule"`
}
