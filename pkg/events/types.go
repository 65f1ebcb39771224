package events

import "encoding/json"

// Event name constants
const (
	CalibrationChange = "calibration.change"
	ExperimentPhase   = "experiment.phase"
	ExperimentWell    = "experiment.well"
	ExperimentAction  = "experiment.action"
	ScheduleAction    = "schedule.action"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationChangeEvent is the typed payload for calibration.change.
type CalibrationChangeEvent struct {
	Phase   string `json:"phase"`
	Corner  string `json:"corner,omitempty"`
	Wells   int    `json:"wells"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// ExperimentPhaseEvent is the typed payload for experiment.phase.
type ExperimentPhaseEvent struct {
	RunID   string `json:"runId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// ExperimentWellEvent is the typed payload for experiment.well, sent when the
// stage arrives at a well.
type ExperimentWellEvent struct {
	RunID string  `json:"runId"`
	Label string  `json:"label"`
	Index int     `json:"index"`
	Total int     `json:"total"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Ts    int64   `json:"ts"`
}

// ActionEvent is the typed payload for experiment.action and
// schedule.action: a user request such as pause or skip.
type ActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.ExperimentPhaseEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
