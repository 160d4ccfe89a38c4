package reboot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platformsre/patchrun/internal/remote"
)

// Scheduler is the job-scheduling surface the coordinator polls; satisfied
// by *db.MaintenanceDB.
type Scheduler interface {
	ActiveSchedulerJobs(ctx context.Context) (int, error)
}

// SSHTarget is the production Target: scheduler state from the database,
// reboot and update re-check over the SSH channel.
type SSHTarget struct {
	Runner    *remote.SSHRunner
	Jobs      Scheduler
	Grace     time.Duration
	Attempts  int
	RetryWait time.Duration
}

func NewSSHTarget(runner *remote.SSHRunner, jobs Scheduler) *SSHTarget {
	return &SSHTarget{
		Runner:    runner,
		Jobs:      jobs,
		Grace:     60 * time.Second,
		Attempts:  30,
		RetryWait: 30 * time.Second,
	}
}

func (t *SSHTarget) Host() string {
	return t.Runner.Host()
}

func (t *SSHTarget) SchedulerIdle(ctx context.Context) (bool, error) {
	active, err := t.Jobs.ActiveSchedulerJobs(ctx)
	if err != nil {
		return false, err
	}
	return active == 0, nil
}

// Reboot issues the reboot and blocks until the server answers on SSH
// again, then re-dials the runner so later stages get a live transport.
// The issue command's error is ignored: the connection usually dies out
// from under the session before it can report success.
func (t *SSHTarget) Reboot(ctx context.Context) error {
	t.Runner.Run(ctx, "sudo systemctl reboot")

	select {
	case <-ctx.Done():
		return fmt.Errorf("reboot wait interrupted: %v", ctx.Err())
	case <-time.After(t.Grace):
	}

	if err := remote.WaitForReachable(ctx, t.Runner.Host(), t.Attempts, t.RetryWait); err != nil {
		return err
	}

	return t.Runner.Redial()
}

func (t *SSHTarget) OutstandingUpdates(ctx context.Context) (int, error) {
	output, err := t.Runner.Run(ctx, `patchrun-agent --count-outstanding`)
	if err != nil {
		return 0, err
	}

	count, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("unexpected agent output %q from %s", strings.TrimSpace(output), t.Host())
	}
	return count, nil
}
