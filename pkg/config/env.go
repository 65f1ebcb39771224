package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/hardware"
)

// Environment variables that take precedence over the config file.
const (
	EnvCalibrationDir    = "ROBOCAM_CALIBRATION_DIR"
	EnvOutputDir         = "ROBOCAM_OUTPUT_DIR"
	EnvExperimentDir     = "ROBOCAM_EXPERIMENT_DIR"
	EnvHistoryDB         = "ROBOCAM_HISTORY_DB"
	EnvCamera            = "ROBOCAM_CAMERA"
	EnvPreRecordingDelay = "ROBOCAM_PRE_RECORDING_DELAY"
)

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

// LoadDotEnv loads a .env file sitting next to configPath into the process
// environment. Variables already set are left alone. A missing file is not
// an error.
func LoadDotEnv(configPath string) error {
	p := filepath.Join(filepath.Dir(configPath), ".env")
	err := godotenv.Load(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		logrus.WithField("path", p).Debug("loaded environment file")
	}
	return nil
}

func overridesFromEnv(lookup func(string) (string, bool)) *RawFileConfig {
	o := &RawFileConfig{}

	str := func(key string) *string {
		if v, ok := lookup(key); ok && v != "" {
			return &v
		}
		return nil
	}

	o.CalibrationDir = str(EnvCalibrationDir)
	o.OutputDir = str(EnvOutputDir)
	o.ExperimentDir = str(EnvExperimentDir)
	o.HistoryDB = str(EnvHistoryDB)
	if v := str(EnvCamera); v != nil {
		k := hardware.CameraKind(*v)
		o.CameraKind = &k
	}
	if v := str(EnvPreRecordingDelay); v != nil {
		secs, err := strconv.ParseFloat(*v, 64)
		if err != nil {
			logrus.WithError(err).Warnf("ignoring invalid %s=%q", EnvPreRecordingDelay, *v)
		} else {
			o.PreRecordingDelaySeconds = &secs
		}
	}

	return o
}
