package config

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/utils/ptr"
)

// DefaultMotionProfile is the profile used when settings name none.
const DefaultMotionProfile = "default"

var (
	defaultFileConfig = &RawFileConfig{
		CalibrationDir:           ptr.To("/var/lib/robocam/calibrations"),
		OutputDir:                ptr.To("/var/lib/robocam/outputs"),
		ExperimentDir:            ptr.To("/var/lib/robocam/experiments"),
		HistoryDB:                ptr.To("/var/lib/robocam/history.db"),
		StageLimits:              ptr.To(hardware.DefaultLimits()),
		LaserDefaultOn:           ptr.To(false),
		CameraKind:               ptr.To(hardware.CameraSimulated),
		PreRecordingDelaySeconds: ptr.To(1.0),
		AllowNonRootAccess:       ptr.To(false),
		Cron:                     ptr.To(""),
		ScheduledSettings:        ptr.To(""),
	}

	defaultMotionProfile = MotionProfile{
		Preliminary:  Motion{Feedrate: 3000, Acceleration: 500},
		BetweenWells: Motion{Feedrate: 5000, Acceleration: 1000},
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	env      *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		env:      &RawFileConfig{},
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	CalibrationDir           *string                  `json:"calibrationDir,omitempty"`
	OutputDir                *string                  `json:"outputDir,omitempty"`
	ExperimentDir            *string                  `json:"experimentDir,omitempty"`
	HistoryDB                *string                  `json:"historyDB,omitempty"`
	StageLimits              *hardware.Limits         `json:"stageLimits,omitempty"`
	LaserDefaultOn           *bool                    `json:"laserDefaultOn,omitempty"`
	CameraKind               *hardware.CameraKind     `json:"cameraKind,omitempty"`
	PreRecordingDelaySeconds *float64                 `json:"preRecordingDelaySeconds,omitempty"`
	AllowNonRootAccess       *bool                    `json:"allowNonRootAccess,omitempty"`
	MotionProfiles           map[string]MotionProfile `json:"motionProfiles,omitempty"`
	Cron                     *string                  `json:"cron,omitempty"`
	ScheduledSettings        *string                  `json:"scheduledSettings,omitempty"`
}

// NewRawFileConfigFromConfig returns the effective configuration of c, with
// defaults and environment overrides resolved.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	profiles := map[string]MotionProfile{}
	for _, name := range c.MotionProfileNames() {
		p, _ := c.MotionProfile(name)
		profiles[name] = p
	}

	rawConfig := &RawFileConfig{
		CalibrationDir:           ptr.To(c.CalibrationDir()),
		OutputDir:                ptr.To(c.OutputDir()),
		ExperimentDir:            ptr.To(c.ExperimentDir()),
		HistoryDB:                ptr.To(c.HistoryDB()),
		StageLimits:              ptr.To(c.StageLimits()),
		LaserDefaultOn:           ptr.To(c.LaserDefaultOn()),
		CameraKind:               ptr.To(c.CameraKind()),
		PreRecordingDelaySeconds: ptr.To(c.PreRecordingDelay().Seconds()),
		AllowNonRootAccess:       ptr.To(c.AllowNonRootAccess()),
		MotionProfiles:           profiles,
		Cron:                     ptr.To(c.Cron()),
		ScheduledSettings:        ptr.To(c.ScheduledSettings()),
	}

	return rawConfig, nil
}

// pick returns the first non-nil value, environment first.
func pick[T any](vals ...*T) T {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	var zero T
	return zero
}

func (f *File) CalibrationDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.env.CalibrationDir, f.c.CalibrationDir, defaultFileConfig.CalibrationDir)
}

func (f *File) OutputDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.env.OutputDir, f.c.OutputDir, defaultFileConfig.OutputDir)
}

func (f *File) ExperimentDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.env.ExperimentDir, f.c.ExperimentDir, defaultFileConfig.ExperimentDir)
}

func (f *File) HistoryDB() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.env.HistoryDB, f.c.HistoryDB, defaultFileConfig.HistoryDB)
}

func (f *File) StageLimits() hardware.Limits {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.c.StageLimits, defaultFileConfig.StageLimits)
}

func (f *File) LaserDefaultOn() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.c.LaserDefaultOn, defaultFileConfig.LaserDefaultOn)
}

func (f *File) CameraKind() hardware.CameraKind {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.env.CameraKind, f.c.CameraKind, defaultFileConfig.CameraKind)
}

func (f *File) PreRecordingDelay() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	secs := pick(f.env.PreRecordingDelaySeconds, f.c.PreRecordingDelaySeconds, defaultFileConfig.PreRecordingDelaySeconds)
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.c.AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) MotionProfile(name string) (MotionProfile, bool) {
	if f.c == nil {
		panic("config is nil")
	}

	if name == "" {
		name = DefaultMotionProfile
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if p, ok := f.c.MotionProfiles[name]; ok {
		return p, true
	}
	if name == DefaultMotionProfile {
		return defaultMotionProfile, true
	}
	return MotionProfile{}, false
}

func (f *File) MotionProfileNames() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	names := []string{}
	hasDefault := false
	for name := range f.c.MotionProfiles {
		names = append(names, name)
		if name == DefaultMotionProfile {
			hasDefault = true
		}
	}
	if !hasDefault {
		names = append(names, DefaultMotionProfile)
	}
	sort.Strings(names)

	return names
}

func (f *File) Cron() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.c.Cron, defaultFileConfig.Cron)
}

func (f *File) ScheduledSettings() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return pick(f.c.ScheduledSettings, defaultFileConfig.ScheduledSettings)
}

func (f *File) SetCalibrationDir(dir string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationDir = &dir
}

func (f *File) SetOutputDir(dir string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.OutputDir = &dir
}

func (f *File) SetLaserDefaultOn(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.LaserDefaultOn = &b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) SetMotionProfile(name string, p MotionProfile) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c.MotionProfiles == nil {
		f.c.MotionProfiles = map[string]MotionProfile{}
	}
	f.c.MotionProfiles[name] = p
}

func (f *File) SetCron(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.Cron = &s
}

func (f *File) SetScheduledSettings(path string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.ScheduledSettings = &path
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.env = overridesFromEnv(lookupEnv)

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if conf.StageLimits != nil {
		if err := conf.StageLimits.Validate(); err != nil {
			return pkgerrors.Wrapf(err, "invalid stage limits in %s", f.filepath)
		}
	}
	f.c = &conf

	return nil
}

// Save writes the file configuration. Environment overrides are never
// written back.
func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"calibrationDir":     f.CalibrationDir(),
		"outputDir":          f.OutputDir(),
		"experimentDir":      f.ExperimentDir(),
		"historyDB":          f.HistoryDB(),
		"cameraKind":         f.CameraKind(),
		"laserDefaultOn":     f.LaserDefaultOn(),
		"preRecordingDelay":  f.PreRecordingDelay(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"motionProfiles":     f.MotionProfileNames(),
		"cron":               f.Cron(),
	}
}
