package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/types"
)

const scheduleNextRuns = 3

func setupScheduler() {
	scheduler = NewScheduler(runScheduledExperiment, scheduledPreCheck, announceScheduledRun, reportScheduleError)
	scheduler.Start()

	if expr := conf.Cron(); expr != "" {
		if err := scheduler.Schedule(expr); err != nil {
			logrus.Errorf("ignoring saved schedule: %v", err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"cron":     expr,
			"settings": conf.ScheduledSettings(),
		}).Info("experiment schedule restored")
	}
}

func runScheduledExperiment() error {
	path := conf.ScheduledSettings()
	if path == "" {
		return pkgerrors.Wrap(ErrInvalidSchedule, "no settings file is scheduled")
	}
	s, err := experiment.LoadSettings(path)
	if err != nil {
		return err
	}
	resp, err := startFromSettings(s)
	if err != nil {
		return err
	}
	publishScheduleAction("run", fmt.Sprintf("Scheduled experiment %s started (run %s)", s.ExperimentName, resp.RunID))
	return nil
}

// scheduledPreCheck waits for a running experiment to finish.
func scheduledPreCheck() error {
	if st := runner.Status(); st.Phase.Active() {
		return pkgerrors.Wrapf(experiment.ErrRunInProgress, "run %s is %s", st.RunID, st.Phase)
	}
	return nil
}

func announceScheduledRun(at time.Time) {
	publishScheduleAction("upcoming", fmt.Sprintf("Scheduled experiment starts at %s", at.Format("Jan _2 15:04")))
}

func reportScheduleError(err error) {
	logrus.Errorf("scheduled experiment: %v", err)
	publishScheduleAction("error", err.Error())
}

func publishScheduleAction(action, msg string) {
	sseHub.Publish(events.ScheduleAction, events.ActionEvent{
		Action:  action,
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

func scheduleStatus() types.ScheduleStatus {
	st := types.ScheduleStatus{
		Cron:     conf.Cron(),
		Settings: conf.ScheduledSettings(),
	}
	if scheduler != nil {
		st.NextRuns = scheduler.NextRuns(scheduleNextRuns)
		st.Enabled = len(st.NextRuns) > 0
	}
	return st
}

// setSchedule validates and persists the schedule. An empty cron expression
// disables it.
func setSchedule(c *gin.Context) {
	var req types.ScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if req.Cron == "" {
		scheduler.Clear()
		conf.SetCron("")
		if err := conf.Save(); err != nil {
			logrus.Errorf("saveConfig failed: %v", err)
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		logrus.Info("experiment schedule disabled")
		publishScheduleAction("disable", "Scheduled experiments disabled")
		c.IndentedJSON(http.StatusCreated, scheduleStatus())
		return
	}

	if _, err := ParseCron(req.Cron); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	settingsPath := req.Settings
	if settingsPath == "" {
		settingsPath = conf.ScheduledSettings()
	}
	if settingsPath == "" {
		abortWithError(c, http.StatusBadRequest, pkgerrors.Wrap(ErrInvalidSchedule, "a settings file is required"))
		return
	}
	s, err := experiment.LoadSettings(settingsPath)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	if err := s.Validate(); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	conf.SetCron(req.Cron)
	conf.SetScheduledSettings(settingsPath)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if err := scheduler.Schedule(req.Cron); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	st := scheduleStatus()
	logrus.WithFields(logrus.Fields{
		"cron":     req.Cron,
		"settings": settingsPath,
		"next":     st.NextRuns,
	}).Info("experiment scheduled")
	if len(st.NextRuns) > 0 {
		publishScheduleAction("schedule", fmt.Sprintf("Experiment scheduled at %s", st.NextRuns[0].Format("Jan _2 15:04")))
	}

	c.IndentedJSON(http.StatusCreated, st)
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, scheduleStatus())
}

func postponeSchedule(c *gin.Context) {
	var req types.PostponeRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, pkgerrors.Wrapf(ErrInvalidSchedule, "duration %q: %v", req.Duration, err))
		return
	}

	if err := scheduler.Postpone(d); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	next, _ := scheduler.Status()
	publishScheduleAction("postpone", fmt.Sprintf("Next experiment postponed to %s", next.Format("Jan _2 15:04")))
	c.IndentedJSON(http.StatusCreated, scheduleStatus())
}

func skipSchedule(c *gin.Context) {
	if err := scheduler.Skip(); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	next, _ := scheduler.Status()
	publishScheduleAction("skip", fmt.Sprintf("Next experiment skipped, following run at %s", next.Format("Jan _2 15:04")))
	c.IndentedJSON(http.StatusCreated, scheduleStatus())
}
