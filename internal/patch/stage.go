package patch

import (
	"context"
	"sync"
	"time"

	"github.com/platformsre/patchrun/internal/remote"
	"github.com/platformsre/patchrun/internal/tracker"
)

// Stage runs the dispatch/monitor pair for the whole fleet: one unit per
// server, dispatch fanned out fire-and-forget, then a single polling loop
// classifying every server's log until all units are terminal.
type Stage struct {
	Dispatcher *Dispatcher
	Monitor    *Monitor
}

func NewStage(artifactPath, helperMinVersion string, interval time.Duration) *Stage {
	return &Stage{
		Dispatcher: &Dispatcher{
			ArtifactPath:     artifactPath,
			HelperMinVersion: helperMinVersion,
		},
		Monitor: &Monitor{Interval: interval},
	}
}

func (s *Stage) Run(ctx context.Context, runners map[string]remote.Runner) *tracker.Tracker {
	track := tracker.New()
	logPath := LogPath(time.Now())

	units := make(map[string]*tracker.Unit, len(runners))
	for host := range runners {
		units[host] = track.Register(host)
	}

	var wg sync.WaitGroup
	for host, runner := range runners {
		unit := units[host]

		wg.Add(1)
		go func(runner remote.Runner, unit *tracker.Unit) {
			defer wg.Done()

			unit.Start("dispatching")
			if err := s.Dispatcher.Dispatch(ctx, runner, logPath); err != nil {
				unit.Fail(err)
				return
			}
			unit.SetProgress("dispatched", 0)
		}(runner, unit)
	}

	// Dispatch prep is quick; the detached install keeps running on its
	// own. Monitoring starts once every trigger has been issued.
	wg.Wait()

	s.Monitor.Watch(ctx, runners, logPath, track, units)
	return track
}
