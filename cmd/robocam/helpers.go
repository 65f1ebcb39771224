package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var offlineAnnotation = map[string]string{offline: "true"}

// parsePoint parses "x,y,z".
func parsePoint(s string) (wellgrid.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return wellgrid.Point{}, fmt.Errorf("invalid point %q, expected x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return wellgrid.Point{}, fmt.Errorf("invalid point %q: %v", s, err)
		}
		v[i] = f
	}
	return wellgrid.Point{X: v[0], Y: v[1], Z: v[2]}, nil
}

// parsePhase parses "ACTION[:seconds]", e.g. "GPIO ON:30" or "capture image".
func parsePhase(s string) (experiment.ActionPhase, error) {
	action, secs := s, ""
	if i := strings.LastIndex(s, ":"); i >= 0 {
		action, secs = s[:i], s[i+1:]
	}
	p := experiment.ActionPhase{
		Action: experiment.Action(strings.ToUpper(strings.TrimSpace(action))),
	}
	if secs != "" {
		t, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
		if err != nil {
			return p, fmt.Errorf("invalid phase %q: %v", s, err)
		}
		p.Time = t
	}
	return p, nil
}

// parseResolution parses "WIDTHxHEIGHT".
func parseResolution(s string) ([2]int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return [2]int{}, fmt.Errorf("invalid resolution %q, expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return [2]int{}, fmt.Errorf("invalid resolution %q: %v", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return [2]int{}, fmt.Errorf("invalid resolution %q: %v", s, err)
	}
	return [2]int{width, height}, nil
}

// settingsFlags builds experiment settings from command line flags.
type settingsFlags struct {
	calibration string
	wells       []string
	phases      []string
	name        string
	pattern     string
	mode        string
	export      string
	profile     string
	fps         float64
	resolution  string
	mp4         bool
}

func (f *settingsFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.calibration, "calibration", "", "calibration file name, as listed by 'robocam calibrate list'")
	fs.StringSliceVarP(&f.wells, "wells", "w", nil, "wells to visit, e.g. A1,A2,B1")
	fs.StringArrayVarP(&f.phases, "phase", "p", nil, `action phase "ACTION[:seconds]", repeatable, e.g. -p "GPIO ON:30" -p "GPIO OFF:10"`)
	fs.StringVarP(&f.name, "name", "n", "", "experiment name used in output folder names")
	fs.StringVar(&f.pattern, "pattern", "", "visiting pattern (snake, raster)")
	fs.StringVar(&f.mode, "mode", "", "capture mode (video, image)")
	fs.StringVar(&f.export, "export", "", "export type (H264 for video, PNG or JPEG for images)")
	fs.StringVar(&f.profile, "motion-profile", "", "motion profile from the daemon config")
	fs.Float64Var(&f.fps, "fps", 0, "target video frame rate")
	fs.StringVar(&f.resolution, "resolution", "", "capture resolution, e.g. 1920x1080")
	fs.BoolVar(&f.mp4, "mp4", false, "convert every recording to MP4 with ffmpeg after it is taken")
}

func (f *settingsFlags) settings() (experiment.Settings, error) {
	s := experiment.Settings{
		CalibrationFile:     f.calibration,
		SelectedWells:       f.wells,
		ExperimentName:      f.name,
		Pattern:             f.pattern,
		CaptureMode:         experiment.CaptureMode(strings.ToLower(f.mode)),
		ExportType:          strings.ToUpper(f.export),
		MotionConfigProfile: f.profile,
		FPS:                 f.fps,
		ConvertToMP4:        f.mp4,
	}
	for _, raw := range f.phases {
		p, err := parsePhase(raw)
		if err != nil {
			return s, err
		}
		s.ActionPhases = append(s.ActionPhases, p)
	}
	if f.resolution != "" {
		r, err := parseResolution(f.resolution)
		if err != nil {
			return s, err
		}
		s.Resolution = r
	}
	return s.WithDefaults(), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
