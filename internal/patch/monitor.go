package patch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platformsre/patchrun/internal/remote"
	"github.com/platformsre/patchrun/internal/tracker"
)

// fetchLogScript prints the dated log, "pending" while the detached task
// is alive but has not created it yet, or "not found" when neither exists.
// Absence and emptiness are distinct, meaningful states: "not found" means
// the task died before logging, an empty file means the installer ran and
// found nothing to do.
const fetchLogScript = `if [ -f "$1" ]; then cat "$1"; elif pgrep -f patchrun/install.sh >/dev/null; then echo "pending"; else echo "not found"; fi`

// Monitor polls each dispatched server's patch log and drives the unit
// state from what it reads.
type Monitor struct {
	Interval time.Duration
}

// Observe fetches and classifies one server's log, updating the unit. A
// fetch error is transient (the channel hiccupped, not the install) and
// leaves the unit where it was.
func (m *Monitor) Observe(ctx context.Context, runner remote.Runner, logPath string, unit *tracker.Unit) {
	output, err := runner.Run(ctx, fetchLogScript, logPath)
	if err != nil {
		unit.SetProgress(fmt.Sprintf("log fetch failed: %v", err), unit.Snapshot().Percent)
		return
	}

	switch strings.TrimSpace(output) {
	case "not found":
		unit.Fail(fmt.Errorf("patch log %s not found on %s", logPath, runner.Host()))
		return
	case "pending":
		unit.SetProgress("waiting for installer", 0)
		return
	}

	snap := ParseLog(output)
	phase, percent := snap.Progress()

	if snap.Done() {
		unit.Complete(phase)
		return
	}
	unit.SetProgress(phase, percent)
}

// Watch polls every server until no unit remains queued or running,
// printing the aggregated status table each iteration through the tracker.
func (m *Monitor) Watch(ctx context.Context, runners map[string]remote.Runner, logPath string,
	track *tracker.Tracker, units map[string]*tracker.Unit) {

	for {
		for host, unit := range units {
			if unit.Snapshot().State.Terminal() {
				continue
			}
			m.Observe(ctx, runners[host], logPath, unit)
		}

		tracker.PrintTable(track.Snapshot())

		if track.AllTerminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.Interval):
		}
	}
}
