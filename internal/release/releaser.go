package release

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/platformsre/patchrun/internal/tracker"
	"github.com/platformsre/patchrun/internal/types"
)

// Store is the database surface the releaser needs; satisfied by
// *db.MaintenanceDB.
type Store interface {
	DeploymentFlag(ctx context.Context, database string) (string, error)
	ClearDeploymentFlag(ctx context.Context, database string) error
	EnableIngestionLogin(ctx context.Context, login string) error
}

// Releaser clears each database's deployment flag with read-back
// verification and re-enables the ingestion login once every database on
// the server is done. Databases are worked in fixed-size batch windows so
// one server never sees more than BatchSize concurrent connections; a
// window fully drains before the next starts.
type Releaser struct {
	store Store

	IngestionLogin string
	BatchSize      int
	RetryAttempts  int
	RetryDelay     time.Duration
	StatusInterval time.Duration
}

func NewReleaser(store Store, ingestionLogin string, batchSize int) *Releaser {
	if batchSize <= 0 {
		batchSize = 15
	}
	return &Releaser{
		store:          store,
		IngestionLogin: ingestionLogin,
		BatchSize:      batchSize,
		RetryAttempts:  3,
		RetryDelay:     time.Second,
		StatusInterval: 10 * time.Second,
	}
}

// Result is one server's release outcome. Any failed database marks the
// server failed even when every sibling succeeded.
type Result struct {
	Units        []types.UnitSnapshot
	LoginEnabled bool
}

func (r Result) Failed() bool {
	for _, u := range r.Units {
		if u.State == types.UnitFailed {
			return true
		}
	}
	return !r.LoginEnabled
}

func (r *Releaser) Run(ctx context.Context, server string, databases []string) Result {
	track := tracker.New()

	units := make([]*tracker.Unit, len(databases))
	for i, database := range databases {
		units[i] = track.RegisterDatabase(server, database)
	}

	for start := 0; start < len(databases); start += r.BatchSize {
		end := start + r.BatchSize
		if end > len(databases) {
			end = len(databases)
		}

		r.runBatch(ctx, track, databases[start:end], units[start:end])
	}

	result := Result{Units: track.Snapshot()}

	// Restoring loader access is unconditional: the window is over whether
	// or not every flag cleared, and a disabled login would outlast the run.
	if err := r.store.EnableIngestionLogin(ctx, r.IngestionLogin); err != nil {
		log.Printf("Error: %s: failed to re-enable ingestion login: %v", server, err)
	} else {
		result.LoginEnabled = true
	}

	return result
}

// runBatch drains one batch window completely before returning.
func (r *Releaser) runBatch(ctx context.Context, track *tracker.Tracker, databases []string, units []*tracker.Unit) {
	var wg sync.WaitGroup
	for i, database := range databases {
		wg.Add(1)
		go func(database string, unit *tracker.Unit) {
			defer wg.Done()
			r.releaseDatabase(ctx, database, unit)
		}(database, units[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		tracker.PrintTable(track.Snapshot())

		select {
		case <-done:
			tracker.PrintTable(track.Snapshot())
			return
		case <-time.After(r.StatusInterval):
		}
	}
}

// releaseDatabase clears the flag and reads it back. A flag that is
// already clear verifies on the first pass with zero retries, which is
// what makes re-running the releaser safe.
func (r *Releaser) releaseDatabase(ctx context.Context, database string, unit *tracker.Unit) {
	unit.Start("clearing deployment flag")

	for attempt := 1; attempt <= r.RetryAttempts; attempt++ {
		if err := r.store.ClearDeploymentFlag(ctx, database); err != nil {
			unit.Fail(fmt.Errorf("flag clear failed for %s: %v", database, err))
			return
		}

		value, err := r.store.DeploymentFlag(ctx, database)
		if err != nil {
			unit.Fail(fmt.Errorf("flag verification failed for %s: %v", database, err))
			return
		}
		if value == "" {
			unit.Complete("released")
			return
		}

		unit.SetProgress(fmt.Sprintf("flag still set, retry %d/%d", attempt, r.RetryAttempts), 50)

		select {
		case <-ctx.Done():
			unit.Fail(fmt.Errorf("release of %s interrupted: %v", database, ctx.Err()))
			return
		case <-time.After(r.RetryDelay):
		}
	}

	unit.Fail(fmt.Errorf("deployment flag for %s would not clear after %d attempts", database, r.RetryAttempts))
}
