package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/store"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var (
	conf config.Config

	stage   hardware.Stage
	emitter hardware.Emitter
	camera  hardware.Camera

	session  = calibration.NewSession()
	calStore *calibration.Store
	history  *store.Store
	runner   *experiment.Runner

	sseHub    *events.EventHub
	scheduler *Scheduler

	// rootCtx bounds experiment runs. It is cancelled on shutdown.
	rootCtx = context.Background()
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/version", getVersion)
	router.GET("/config", getConfig)
	router.GET("/status", getStatus)
	router.GET("/motion-profiles", getMotionProfiles)

	router.GET("/position", getPosition)
	router.POST("/home", home)
	router.POST("/move", move)
	router.PUT("/laser", setLaser)
	router.GET("/laser", getLaser)

	router.POST("/grid", generateGrid)

	router.GET("/calibration", getCalibration)
	router.PUT("/calibration/grid", setCalibrationGrid)
	router.GET("/calibration/grid", getCalibrationGrid)
	router.POST("/calibration/corners/:name", setCalibrationCorner)
	router.POST("/calibration/save", saveCalibration)
	router.POST("/calibration/reset", resetCalibration)
	router.GET("/calibrations", listCalibrations)

	router.POST("/experiment/start", startExperiment)
	router.POST("/experiment/pause", pauseExperiment)
	router.POST("/experiment/resume", resumeExperiment)
	router.POST("/experiment/stop", stopExperiment)
	router.GET("/experiment", getExperiment)

	router.GET("/runs", listRuns)
	router.GET("/runs/:id", getRun)

	router.PUT("/schedule", setSchedule)
	router.GET("/schedule", getSchedule)
	router.POST("/schedule/postpone", postponeSchedule)
	router.POST("/schedule/skip", skipSchedule)

	router.GET("/events", streamEvents)

	return router
}

// setupDevices builds the stage, emitter and camera from the configuration.
// Only simulated stage and emitter backends exist in tree.
func setupDevices(c config.Config) error {
	limits := c.StageLimits()
	home := wellgrid.Point{X: limits.X.Min, Y: limits.Y.Min, Z: limits.Z.Max}

	sim := hardware.NewSimStage(home)
	stage = hardware.WithLimits(sim, limits)

	emitter = hardware.NewSimEmitter(false)
	if err := emitter.Switch(context.Background(), c.LaserDefaultOn()); err != nil {
		return err
	}

	var err error
	camera, err = hardware.NewCamera(c.CameraKind())
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"camera": c.CameraKind(),
		"limits": limits,
		"laser":  c.LaserDefaultOn(),
	}).Info("devices ready")

	return nil
}

func setupRunner(c config.Config) {
	opts := experiment.RunnerOptions{
		OutputDir:   c.OutputDir(),
		SettleDelay: c.PreRecordingDelay(),
		Hub:         sseHub,
	}
	if history != nil {
		opts.History = history
	}
	runner = experiment.NewRunner(experiment.Devices{
		Stage:   stage,
		Emitter: emitter,
		Camera:  camera,
	}, opts)
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	if err := config.LoadDotEnv(configPath); err != nil {
		logrus.Warnf("failed to load .env: %v", err)
	}

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rootCtx = ctx

	sseHub = events.NewEventHub()
	calStore = calibration.NewStore(conf.CalibrationDir())

	history, err = store.Open(conf.HistoryDB())
	if err != nil {
		logrus.Fatalf("failed to open run history: %v", err)
	}
	if n, err := history.RecoverInterrupted(ctx, time.Now()); err != nil {
		logrus.Errorf("failed to recover interrupted runs: %v", err)
	} else if n > 0 {
		logrus.Warnf("marked %d interrupted runs as failed", n)
	}

	if err := setupDevices(conf); err != nil {
		logrus.Fatal(err)
	}
	setupRunner(conf)
	setupScheduler()

	router := setupRoutes()
	srv := &http.Server{
		Handler: router,
	}

	// Remove a socket left behind by a previous daemon.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Fatal(err)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("stopping scheduler")
	scheduler.Stop()

	if runner.Status().Phase.Active() {
		logrus.Info("stopping running experiment")
		_ = runner.Stop()
		runner.Wait()
	}
	cancel()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	if err := emitter.Switch(context.Background(), false); err != nil {
		logrus.Errorf("failed to switch laser off before exiting: %v", err)
	}

	logrus.Info("closing run history")
	if err := history.Close(); err != nil {
		logrus.Errorf("failed to close run history: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
