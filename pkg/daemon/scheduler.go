package daemon

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	leadDuration     = time.Minute * 5 // leadDuration is how long before a run it is announced.
	preCheckMaxTimes = 30
	preCheckInterval = time.Second * 10
)

var (
	ErrNoSchedule      = errors.New("no active schedule")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. PreCheck, when set, must pass
// before each run; it is retried for a while before the run is given up.
type Scheduler struct {
	OnUpcoming func(runAt time.Time) // called leadDuration before a run
	OnError    func(err error)       // called on precheck or task error
	Task       TaskFunc
	PreCheck   TaskFunc

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming func(time.Time), onError func(error)) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		OnUpcoming: onUpcoming,
		OnError:    onError,
		Task:       task,
		PreCheck:   preCheck,
		controlCh:  make(chan controlMsg, 4),
		stopCh:     make(chan struct{}),
	}
}

// ParseCron parses a cron expression with optional seconds and descriptors
// such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	sh, err := cronParser.Parse(expr)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrInvalidSchedule, "%q: %v", expr, err)
	}
	return sh, nil
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Schedule replaces the schedule with cronExpr.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	s.set(sh)
	return nil
}

// Clear removes the schedule. The scheduler keeps running idle.
func (s *Scheduler) Clear() {
	s.set(nil)
}

func (s *Scheduler) set(sh cron.Schedule) {
	s.mu.Lock()
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, nil)
	}
}

// Postpone postpones the next scheduled run by d. The postponed run must
// still come before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return pkgerrors.Wrap(ErrInvalidSchedule, "postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return pkgerrors.Wrap(ErrNoSchedule, "nothing to postpone")
	}
	orig := s.nextRun
	next := s.schedule.Next(orig).Truncate(time.Second)
	s.mu.Unlock()

	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(next) >= 0 {
		return pkgerrors.Wrapf(ErrInvalidSchedule, "postponing by %s would pass the following run at %s", d, next.Format(time.DateTime))
	}

	s.mu.Lock()
	s.nextRun = pp
	s.mu.Unlock()

	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return pkgerrors.Wrap(ErrNoSchedule, "nothing to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// NextRuns returns up to n upcoming run times, starting with the next one.
func (s *Scheduler) NextRuns(n int) []time.Time {
	schedule, next := s.snapshot()
	if schedule == nil || next.IsZero() {
		return nil
	}
	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		runs = append(runs, next)
		next = schedule.Next(next)
	}
	return runs
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		leading := true

		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			wait := time.Until(nextRun) - leadDuration
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break
				}

				if leading {
					logrus.Debugf("upcoming scheduled run at %s", nextRun.Format(time.DateTime))
					leading = false
					runWait := time.Until(nextRun)
					if runWait < 0 {
						runWait = 0
					}
					timer.Reset(runWait)
					s.sendNotify(nextRun)
					continue
				}

				logrus.Debugf("starting scheduled run of %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(pkgerrors.Wrap(err, "precheck failed"))
						}

						attempts++
						if attempts <= preCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
							timer.Reset(preCheckInterval)
							continue
						}

						logrus.Warnf("giving up scheduled run of %s after %d failed prechecks", nextRun.Format(time.DateTime), attempts)
						timer.Stop()
						s.advanceNextRun()
						break
					}
				}

				timer.Stop()

				go func() {
					if err := s.Task(); err != nil {
						s.sendError(pkgerrors.Wrap(err, "scheduled run failed"))
					}
				}()
				s.advanceNextRun()
			case <-s.stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh: // internal control messages
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"data": msg.data,
				}).Debug("received control msg")

				switch msg.kind {
				case ctrlRecalculate, ctrlSkip:
					timer.Stop()
				case ctrlPostpone: // only postpone current run
					pp := msg.data.(time.Time)
					nextRun = pp
					timer.Reset(time.Until(pp))
					continue
				}
			}

			break
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
