package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tasklist/internal/logging"
)

// SchedulerService runs background jobs such as the Telegram digest.
// A job that is still running when its next tick fires is skipped, and a
// panicking job is logged instead of killing the process.
type SchedulerService struct {
	cron *cron.Cron
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	logger := cronLogger{}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// ScheduleInterval runs job every interval, rounded down to whole seconds.
func (s *SchedulerService) ScheduleInterval(name string, interval time.Duration, job func()) (cron.EntryID, error) {
	if interval < time.Second {
		return 0, fmt.Errorf("schedule %s: interval %s is shorter than one second", name, interval)
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		start := time.Now()
		job()
		logging.Logger.WithFields(logrus.Fields{"job": name, "took": time.Since(start).Round(time.Millisecond)}).Info("scheduled job finished")
	}))
	return id, nil
}

// Entries reports how many jobs are registered.
func (s *SchedulerService) Entries() int {
	return len(s.cron.Entries())
}

// Next reports when the given job fires next. It is zero until Start.
func (s *SchedulerService) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// cronLogger sends cron's own messages to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Logger.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Logger.WithFields(pairs(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func pairs(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
