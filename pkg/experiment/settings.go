package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Action is what happens during one action phase.
type Action string

const (
	ActionGPIOOn  Action = "GPIO ON"
	ActionGPIOOff Action = "GPIO OFF"
	ActionDelay   Action = "DELAY"
	ActionCapture Action = "CAPTURE IMAGE"
)

// CaptureMode selects between one video per well and individual images.
type CaptureMode string

const (
	ModeVideo CaptureMode = "video"
	ModeImage CaptureMode = "image"
)

// Export types per capture mode.
const (
	ExportH264 = "H264"
	ExportPNG  = "PNG"
	ExportJPEG = "JPEG"
)

var (
	ErrInvalidSettings = errors.New("invalid experiment settings")
	ErrInvalidPhase    = errors.New("invalid action phase")
	ErrNoWellsSelected = errors.New("no wells selected")
	ErrUnknownWell     = errors.New("selected well not in calibration")
)

// ActionPhase is one step executed at every well. In video mode Time is how
// long the emitter stays in the given state; in image mode only DELAY uses it.
type ActionPhase struct {
	Action Action  `json:"action"`
	Time   float64 `json:"time"`
}

// Duration is how long the phase takes in mode.
func (p ActionPhase) Duration(mode CaptureMode) time.Duration {
	if mode == ModeImage && p.Action != ActionDelay {
		return 0
	}
	if p.Time <= 0 {
		return 0
	}
	return time.Duration(p.Time * float64(time.Second))
}

// Settings is an exportable experiment definition.
type Settings struct {
	CalibrationFile     string        `json:"calibration_file"`
	SelectedWells       []string      `json:"selected_wells"`
	ActionPhases        []ActionPhase `json:"action_phases"`
	Resolution          [2]int        `json:"resolution"`
	FPS                 float64       `json:"fps"`
	ExportType          string        `json:"export_type"`
	MotionConfigProfile string        `json:"motion_config_profile"`
	ExperimentName      string        `json:"experiment_name"`
	Pattern             string        `json:"pattern"`
	CaptureMode         CaptureMode   `json:"capture_mode,omitempty"`
	// ConvertToMP4 remuxes every recording into an MP4 file with ffmpeg.
	ConvertToMP4        bool          `json:"convert_to_mp4,omitempty"`
}

// WithDefaults returns a copy of s with unset fields filled in.
func (s Settings) WithDefaults() Settings {
	if strings.TrimSpace(s.ExperimentName) == "" {
		s.ExperimentName = "exp"
	}
	s.ExperimentName = strings.TrimSpace(s.ExperimentName)
	if s.Pattern == "" {
		s.Pattern = string(wellgrid.Snake)
	}
	if s.CaptureMode == "" {
		s.CaptureMode = ModeVideo
	}
	if s.ExportType == "" {
		if s.CaptureMode == ModeImage {
			s.ExportType = ExportPNG
		} else {
			s.ExportType = ExportH264
		}
	}
	if s.FPS == 0 {
		s.FPS = 30
	}
	if s.Resolution == [2]int{} {
		s.Resolution = [2]int{1920, 1080}
	}
	if len(s.ActionPhases) == 0 && s.CaptureMode == ModeVideo {
		s.ActionPhases = []ActionPhase{{Action: ActionGPIOOff, Time: 30}}
	}
	return s
}

// Validate checks s after defaults have been applied.
func (s Settings) Validate() error {
	if s.CalibrationFile == "" {
		return pkgerrors.Wrap(ErrInvalidSettings, "calibration_file is required")
	}
	if len(s.SelectedWells) == 0 {
		return ErrNoWellsSelected
	}
	if strings.ContainsAny(s.ExperimentName, `/\`) || strings.Contains(s.ExperimentName, "..") {
		return pkgerrors.Wrapf(ErrInvalidSettings, "experiment_name %q cannot be used in a file name", s.ExperimentName)
	}
	if _, err := wellgrid.ParsePattern(s.Pattern); err != nil {
		return pkgerrors.Wrapf(ErrInvalidSettings, "%v", err)
	}
	switch s.CaptureMode {
	case ModeVideo:
		if s.ExportType != ExportH264 {
			return pkgerrors.Wrapf(ErrInvalidSettings, "export_type %q is not available for video, use %s", s.ExportType, ExportH264)
		}
		if s.FPS <= 0 {
			return pkgerrors.Wrapf(ErrInvalidSettings, "fps must be positive, got %g", s.FPS)
		}
	case ModeImage:
		if s.ExportType != ExportPNG && s.ExportType != ExportJPEG {
			return pkgerrors.Wrapf(ErrInvalidSettings, "export_type %q is not available for images, use %s or %s", s.ExportType, ExportPNG, ExportJPEG)
		}
	default:
		return pkgerrors.Wrapf(ErrInvalidSettings, "unknown capture_mode %q", s.CaptureMode)
	}
	if s.Resolution[0] <= 0 || s.Resolution[1] <= 0 {
		return pkgerrors.Wrapf(ErrInvalidSettings, "resolution must be positive, got %dx%d", s.Resolution[0], s.Resolution[1])
	}
	return ValidatePhases(s.CaptureMode, s.ActionPhases)
}

// ValidatePhases checks that every phase is allowed in mode. Video mode only
// switches the emitter and every phase needs a time; image mode can also
// delay and capture, and only DELAY carries a time.
func ValidatePhases(mode CaptureMode, phases []ActionPhase) error {
	if len(phases) == 0 {
		return pkgerrors.Wrap(ErrInvalidPhase, "at least one action phase is required")
	}

	for i, p := range phases {
		n := i + 1
		switch mode {
		case ModeVideo:
			if p.Action != ActionGPIOOn && p.Action != ActionGPIOOff {
				return pkgerrors.Wrapf(ErrInvalidPhase, "phase %d (%s) is not available in video mode", n, p.Action)
			}
			if p.Time < 0 {
				return pkgerrors.Wrapf(ErrInvalidPhase, "phase %d (%s) has negative time", n, p.Action)
			}
		case ModeImage:
			switch p.Action {
			case ActionGPIOOn, ActionGPIOOff, ActionCapture:
			case ActionDelay:
				if p.Time < 0 {
					return pkgerrors.Wrapf(ErrInvalidPhase, "phase %d (%s) has negative time", n, p.Action)
				}
			default:
				return pkgerrors.Wrapf(ErrInvalidPhase, "phase %d has unknown action %q", n, p.Action)
			}
		default:
			return pkgerrors.Wrapf(ErrInvalidPhase, "unknown capture mode %q", mode)
		}
	}
	return nil
}

// SettingsFileName returns the name settings are exported under,
// YYYYMMDD_HHMMSS_<experiment>_profile.json.
func SettingsFileName(experiment string, at time.Time) string {
	return fmt.Sprintf("%s_%s_profile.json", at.Format(dateTimeLayout), experiment)
}

// SaveSettings writes s as indented JSON to path.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal settings")
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// LoadSettings reads settings from path. Defaults are applied but the result
// is not validated.
func LoadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, pkgerrors.Wrapf(err, "failed to read %s", path)
	}
	var s Settings
	if err := json.Unmarshal(b, &s); err != nil {
		return Settings{}, pkgerrors.Wrapf(ErrInvalidSettings, "%s: %v", path, err)
	}
	return s.WithDefaults(), nil
}
