package quiesce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platformsre/patchrun/internal/types"
)

type fakeStore struct {
	mu sync.Mutex

	importSet map[string]bool
	lockHeld  map[string]bool
	flags     map[string]string
	flagErr   error

	loginDisabled bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		importSet: make(map[string]bool),
		lockHeld:  make(map[string]bool),
		flags:     make(map[string]string),
	}
}

func (f *fakeStore) ImportInProgress(ctx context.Context, database string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.importSet[database], nil
}

func (f *fakeStore) RecurringJobLocked(ctx context.Context, database string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockHeld[database], nil
}

func (f *fakeStore) SetDeploymentFlag(ctx context.Context, database, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flagErr != nil {
		return f.flagErr
	}
	f.flags[database] = value
	return nil
}

func (f *fakeStore) DeploymentFlag(ctx context.Context, database string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[database], nil
}

func (f *fakeStore) DisableIngestionLogin(ctx context.Context, login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginDisabled = true
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	scripts []string
	err     error
}

func (f *fakeRunner) Host() string { return "sql-01" }

func (f *fakeRunner) Run(ctx context.Context, script string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return "", f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scripts)
}

func testGate(store *fakeStore, runner *fakeRunner) *Gate {
	gate := NewGate(store, runner, "dbagent", "ingest_loader")
	gate.ImportPollInterval = 2 * time.Millisecond
	gate.ImportTimeout = 20 * time.Millisecond
	gate.LockPollInterval = 2 * time.Millisecond
	gate.LockTimeout = 30 * time.Millisecond
	gate.StatusInterval = 5 * time.Millisecond
	return gate
}

func unitByDatabase(t *testing.T, units []types.UnitSnapshot, database string) types.UnitSnapshot {
	t.Helper()
	for _, u := range units {
		if u.Database == database {
			return u
		}
	}
	t.Fatalf("no unit for database %s in %+v", database, units)
	return types.UnitSnapshot{}
}

func TestCleanQuiesceLocksDownServer(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{}
	gate := testGate(store, runner)

	result := gate.Run(context.Background(), "sql-01", []string{"appdb1", "appdb2"}, "run-1")

	if result.Failed() {
		t.Fatalf("clean run should not fail: %+v", result.Units)
	}
	if !result.LockedDown {
		t.Fatal("server should be locked down")
	}
	if !store.loginDisabled {
		t.Fatal("ingestion login should be disabled")
	}
	if runner.count() != 1 || !strings.Contains(runner.scripts[0], "systemctl stop dbagent") {
		t.Fatalf("expected one scheduler stop, got %v", runner.scripts)
	}

	for _, database := range []string{"appdb1", "appdb2"} {
		if store.flags[database] == "" {
			t.Fatalf("deployment flag not set for %s", database)
		}
		if u := unitByDatabase(t, result.Units, database); u.State != types.UnitCompleted {
			t.Fatalf("%s expected completed, got %s", database, u.State)
		}
	}
}

func TestImportTimeoutIsSoftGate(t *testing.T) {
	store := newFakeStore()
	store.importSet["appdb1"] = true
	runner := &fakeRunner{}
	gate := testGate(store, runner)

	result := gate.Run(context.Background(), "sql-01", []string{"appdb1"}, "run-1")

	u := unitByDatabase(t, result.Units, "appdb1")
	if u.State != types.UnitCompleted {
		t.Fatalf("soft gate should proceed, unit is %s (%s)", u.State, u.Err)
	}
	if result.Records[0].ImportFlagClear {
		t.Fatal("record should note the import flag never cleared")
	}
	// The deployment flag is still set after the soft timeout.
	if store.flags["appdb1"] == "" {
		t.Fatal("deployment flag should be set despite the import timeout")
	}
}

func TestLockTimeoutFailsOnlyThatDatabase(t *testing.T) {
	// DB1's lock is clear; DB2's is never released. DB1 completes, DB2
	// fails, and the server-wide lockdown is withheld until both are
	// terminal - and then skipped because one failed.
	store := newFakeStore()
	store.lockHeld["appdb2"] = true
	runner := &fakeRunner{}
	gate := testGate(store, runner)

	result := gate.Run(context.Background(), "sql-01", []string{"appdb1", "appdb2"}, "run-1")

	if u := unitByDatabase(t, result.Units, "appdb1"); u.State != types.UnitCompleted {
		t.Fatalf("appdb1 expected completed, got %s", u.State)
	}
	u := unitByDatabase(t, result.Units, "appdb2")
	if u.State != types.UnitFailed {
		t.Fatalf("appdb2 expected failed, got %s", u.State)
	}
	if !strings.Contains(u.Err, "lock still held") {
		t.Fatalf("unexpected failure message %q", u.Err)
	}

	if !result.Failed() {
		t.Fatal("mixed outcome should mark the server failed")
	}
	if result.LockedDown || store.loginDisabled || runner.count() != 0 {
		t.Fatal("lockdown must be withheld when a database failed")
	}
	// Both flags were set before the hard wait; the result has to say so
	// so the release stage knows to clean them up.
	if !result.FlagsWritten() {
		t.Fatal("result should report the deployment flags it wrote")
	}
	if store.flags["appdb1"] == "" || store.flags["appdb2"] == "" {
		t.Fatal("deployment flags should be set on both databases")
	}
}

func TestFlagWriteErrorLeavesNothingToRelease(t *testing.T) {
	store := newFakeStore()
	store.flagErr = errors.New("deadlock victim")
	runner := &fakeRunner{}
	gate := testGate(store, runner)

	result := gate.Run(context.Background(), "sql-01", []string{"appdb1"}, "run-1")

	if result.FlagsWritten() {
		t.Fatal("no flag reached the database, nothing to release")
	}
}

func TestFlagWriteErrorFailsUnit(t *testing.T) {
	store := newFakeStore()
	store.flagErr = errors.New("deadlock victim")
	runner := &fakeRunner{}
	gate := testGate(store, runner)

	result := gate.Run(context.Background(), "sql-01", []string{"appdb1"}, "run-1")

	u := unitByDatabase(t, result.Units, "appdb1")
	if u.State != types.UnitFailed {
		t.Fatalf("expected failed unit, got %s", u.State)
	}
	if !strings.Contains(u.Err, "deployment flag write failed") {
		t.Fatalf("unexpected error %q", u.Err)
	}
}
