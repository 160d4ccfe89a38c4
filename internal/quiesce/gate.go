package quiesce

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/platformsre/patchrun/internal/remote"
	"github.com/platformsre/patchrun/internal/tracker"
	"github.com/platformsre/patchrun/internal/types"
)

// Store is the slice of the database surface the gate needs. Satisfied by
// *db.MaintenanceDB.
type Store interface {
	ImportInProgress(ctx context.Context, database string) (bool, error)
	RecurringJobLocked(ctx context.Context, database string) (bool, error)
	SetDeploymentFlag(ctx context.Context, database, value string) error
	DeploymentFlag(ctx context.Context, database string) (string, error)
	DisableIngestionLogin(ctx context.Context, login string) error
}

// Gate quiesces every database on one server before maintenance. Each
// database runs as its own unit: wait for the import flag (soft, proceeds
// on timeout), set the deployment flag, wait for the recurring-job lock
// (hard, fails the unit on timeout). The server-wide lockdown - stopping
// the job scheduler and disabling the ingestion login - runs only once
// every database unit is terminal, so one database can never lock the
// server down under a still-working sibling.
//
// The soft gate proceeding after its timeout mirrors the long-standing
// production behavior; confirm with the import pipeline owners before
// hardening it.
type Gate struct {
	store  Store
	runner remote.Runner

	SchedulerService string
	IngestionLogin   string

	ImportPollInterval time.Duration
	ImportTimeout      time.Duration
	LockPollInterval   time.Duration
	LockTimeout        time.Duration
	StatusInterval     time.Duration
}

func NewGate(store Store, runner remote.Runner, schedulerService, ingestionLogin string) *Gate {
	return &Gate{
		store:            store,
		runner:           runner,
		SchedulerService: schedulerService,
		IngestionLogin:   ingestionLogin,

		ImportPollInterval: 5 * time.Second,
		ImportTimeout:      30 * time.Minute,
		LockPollInterval:   10 * time.Second,
		LockTimeout:        30 * time.Minute,
		StatusInterval:     10 * time.Second,
	}
}

// Result reports what happened to one server's quiescence stage.
type Result struct {
	Records    []types.QuiescenceRecord
	Units      []types.UnitSnapshot
	LockedDown bool
}

// FlagsWritten reports whether the gate set a deployment flag on at
// least one database. Those flags need a release pass even when the
// server never reached lockdown.
func (r Result) FlagsWritten() bool {
	for _, rec := range r.Records {
		if rec.DeployFlagValue != "" {
			return true
		}
	}
	return false
}

// Failed reports whether any database unit ended Failed.
func (r Result) Failed() bool {
	for _, u := range r.Units {
		if u.State == types.UnitFailed {
			return true
		}
	}
	return false
}

// Run quiesces the given databases and, when all of them settle cleanly,
// performs the server-wide lockdown. A failed database withholds the
// lockdown and marks the server failed, but never disturbs its siblings.
func (g *Gate) Run(ctx context.Context, server string, databases []string, runID string) Result {
	track := tracker.New()

	records := make([]types.QuiescenceRecord, len(databases))

	var wg sync.WaitGroup
	for i, database := range databases {
		unit := track.RegisterDatabase(server, database)

		wg.Add(1)
		go func(i int, database string, unit *tracker.Unit) {
			defer wg.Done()
			records[i] = g.quiesceDatabase(ctx, database, runID, unit)
		}(i, database, unit)
	}

	track.Wait(ctx, g.StatusInterval, 0)
	wg.Wait()

	result := Result{
		Records: records,
		Units:   track.Snapshot(),
	}

	if result.Failed() {
		log.Printf("Warning: %s: lockdown withheld, not all databases quiesced", server)
		return result
	}

	if err := g.lockdownServer(ctx); err != nil {
		log.Printf("Error: %s: server lockdown failed: %v", server, err)
		return result
	}

	result.LockedDown = true
	return result
}

func (g *Gate) quiesceDatabase(ctx context.Context, database, runID string, unit *tracker.Unit) types.QuiescenceRecord {
	record := types.QuiescenceRecord{Database: database}

	unit.Start("waiting for import")

	clear, err := g.pollUntilClear(ctx, database, g.ImportPollInterval, g.ImportTimeout, g.store.ImportInProgress)
	if err != nil {
		unit.Fail(err)
		return record
	}
	record.ImportFlagClear = clear
	if !clear {
		// Soft gate: the import window closed on us, proceed anyway.
		log.Printf("Warning: %s/%s: import flag still set after %v, proceeding", g.runner.Host(), database, g.ImportTimeout)
	}

	unit.SetProgress("setting deployment flag", 33)

	flagValue := fmt.Sprintf("%s %s", runID, time.Now().UTC().Format(time.RFC3339))
	if err := g.store.SetDeploymentFlag(ctx, database, flagValue); err != nil {
		unit.Fail(fmt.Errorf("deployment flag write failed: %v", err))
		return record
	}
	record.DeployFlagValue = flagValue

	unit.SetProgress("waiting for job lock", 66)

	clear, err = g.pollUntilClear(ctx, database, g.LockPollInterval, g.LockTimeout, g.store.RecurringJobLocked)
	if err != nil {
		unit.Fail(err)
		return record
	}
	if !clear {
		// Hard gate: a held job lock means the batch job is mid-run and
		// maintenance on this database cannot proceed.
		unit.Fail(fmt.Errorf("recurring job lock still held after %v", g.LockTimeout))
		return record
	}
	record.LockClear = true

	unit.Complete("quiesced")
	return record
}

// pollUntilClear polls an indicator until it reads clear or the timeout
// elapses. Returns (false, nil) on timeout; the caller decides whether that
// is soft or hard. Query errors are returned as-is and fail the unit.
func (g *Gate) pollUntilClear(ctx context.Context, database string, interval, timeout time.Duration,
	indicator func(ctx context.Context, database string) (bool, error)) (bool, error) {

	deadline := time.Now().Add(timeout)
	for {
		set, err := indicator(ctx, database)
		if err != nil {
			return false, fmt.Errorf("indicator query failed for %s: %v", database, err)
		}
		if !set {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("quiescence wait interrupted: %v", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// lockdownServer stops the job scheduler and disables the ingestion login.
// Server-wide and atomic with respect to the databases: by the time it runs
// every unit is terminal, so no loader-visible state changes under a
// mid-flight database.
func (g *Gate) lockdownServer(ctx context.Context) error {
	script := fmt.Sprintf("sudo systemctl stop %s", g.SchedulerService)
	if _, err := g.runner.Run(ctx, script); err != nil {
		return fmt.Errorf("failed to stop scheduler service: %v", err)
	}

	if err := g.store.DisableIngestionLogin(ctx, g.IngestionLogin); err != nil {
		return fmt.Errorf("failed to disable ingestion login: %v", err)
	}

	log.Printf("%s: scheduler stopped, ingestion login disabled", g.runner.Host())
	return nil
}
