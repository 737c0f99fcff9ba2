package services

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleCallSweeper removes call sessions whose heartbeat went quiet.
type StaleCallSweeper interface {
	CleanupStaleCalls() int
}

// CallJanitor runs the stale-call sweep on a cron schedule such as
// "@every 30s". The call security manager never sweeps on its own.
type CallJanitor struct {
	cron  *cron.Cron
	calls StaleCallSweeper
	log   *zap.Logger
}

// NewCallJanitor schedules sweeps but does not start them.
func NewCallJanitor(calls StaleCallSweeper, schedule string, log *zap.Logger) (*CallJanitor, error) {
	if log == nil {
		log = zap.NewNop()
	}

	j := &CallJanitor{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		calls: calls,
		log:   log.Named("janitor"),
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("schedule call cleanup %q: %w", schedule, err)
	}
	return j, nil
}

func (j *CallJanitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *CallJanitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *CallJanitor) sweep() {
	if n := j.calls.CleanupStaleCalls(); n > 0 {
		j.log.Info("stale calls removed", zap.Int("count", n))
	}
}
