package reboot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/platformsre/patchrun/internal/tracker"
)

// Target is one server as the coordinator sees it. The production
// implementation is SSHTarget; tests substitute fakes.
type Target interface {
	Host() string
	SchedulerIdle(ctx context.Context) (bool, error)
	Reboot(ctx context.Context) error
	OutstandingUpdates(ctx context.Context) (int, error)
}

// Coordinator reboots each server as an independent unit: wait for the
// job scheduler to go idle, reboot, block until the target is remotely
// reachable again, then optionally re-check outstanding updates.
//
// The scheduler-idle wait has no timeout. Rebooting under a running batch
// job is the one thing this pipeline must never do, so the only way out of
// that wait is the scheduler draining or the operator cancelling the run.
type Coordinator struct {
	SkipPrechecks  bool
	RecheckUpdates bool

	SchedulerPollInterval time.Duration
	StatusInterval        time.Duration
	RecheckTimeout        time.Duration
}

func NewCoordinator(skipPrechecks, recheckUpdates bool) *Coordinator {
	return &Coordinator{
		SkipPrechecks:  skipPrechecks,
		RecheckUpdates: recheckUpdates,

		SchedulerPollInterval: 60 * time.Second,
		StatusInterval:        60 * time.Second,
		RecheckTimeout:        5 * time.Minute,
	}
}

func (c *Coordinator) Run(ctx context.Context, targets []Target) *tracker.Tracker {
	track := tracker.New()

	var wg sync.WaitGroup
	for _, target := range targets {
		unit := track.Register(target.Host())

		wg.Add(1)
		go func(target Target, unit *tracker.Unit) {
			defer wg.Done()
			c.rebootServer(ctx, target, unit)
		}(target, unit)
	}

	track.Wait(ctx, c.StatusInterval, 0)
	wg.Wait()
	return track
}

func (c *Coordinator) rebootServer(ctx context.Context, target Target, unit *tracker.Unit) {
	unit.Start("waiting for scheduler")

	if !c.SkipPrechecks {
		if err := c.waitSchedulerIdle(ctx, target); err != nil {
			unit.Fail(err)
			return
		}
	}

	unit.SetProgress("rebooting", 50)

	if err := target.Reboot(ctx); err != nil {
		unit.Fail(fmt.Errorf("reboot of %s failed: %v", target.Host(), err))
		return
	}

	if c.RecheckUpdates {
		unit.SetProgress("re-checking updates", 90)
		c.recheckUpdates(ctx, target)
	}

	unit.Complete("rebooted")
}

func (c *Coordinator) waitSchedulerIdle(ctx context.Context, target Target) error {
	for {
		idle, err := target.SchedulerIdle(ctx)
		if err != nil {
			return fmt.Errorf("scheduler check on %s failed: %v", target.Host(), err)
		}
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("scheduler wait on %s interrupted: %v", target.Host(), ctx.Err())
		case <-time.After(c.SchedulerPollInterval):
		}
	}
}

// recheckUpdates is advisory only: a bounded look at whether the installer
// left anything behind. Failures and leftovers are logged, never fatal.
func (c *Coordinator) recheckUpdates(ctx context.Context, target Target) {
	recheckCtx, cancel := context.WithTimeout(ctx, c.RecheckTimeout)
	defer cancel()

	outstanding, err := target.OutstandingUpdates(recheckCtx)
	if err != nil {
		log.Printf("Warning: update re-check on %s failed: %v", target.Host(), err)
		return
	}
	if outstanding > 0 {
		log.Printf("Warning: %s still reports %d outstanding updates", target.Host(), outstanding)
	}
}
