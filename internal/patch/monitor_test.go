package patch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/platformsre/patchrun/internal/tracker"
	"github.com/platformsre/patchrun/internal/types"
)

// fakeRunner returns canned output per call and records every script it
// was asked to run.
type fakeRunner struct {
	mu      sync.Mutex
	host    string
	outputs []string
	err     error
	scripts []string
}

func (f *fakeRunner) Host() string {
	return f.host
}

func (f *fakeRunner) Run(ctx context.Context, script string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, script)
	if f.err != nil {
		return "", f.err
	}

	output := ""
	if len(f.outputs) > 0 {
		output = f.outputs[0]
		if len(f.outputs) > 1 {
			f.outputs = f.outputs[1:]
		}
	}
	return output, nil
}

func observeOnce(t *testing.T, output string) types.UnitSnapshot {
	t.Helper()

	track := tracker.New()
	unit := track.Register("sql-01")
	unit.Start("dispatched")

	monitor := &Monitor{}
	runner := &fakeRunner{host: "sql-01", outputs: []string{output}}
	monitor.Observe(context.Background(), runner, "/var/log/patchrun/patchrun-20260314.log", unit)

	return unit.Snapshot()
}

func TestObserveMissingLogFailsUnit(t *testing.T) {
	snap := observeOnce(t, "not found\n")
	if snap.State != types.UnitFailed {
		t.Fatalf("expected failed unit, got %s", snap.State)
	}
	if snap.Err == "" {
		t.Fatal("expected an error message on the unit")
	}
}

func TestObservePendingKeepsUnitRunning(t *testing.T) {
	snap := observeOnce(t, "pending\n")
	if snap.State != types.UnitRunning {
		t.Fatalf("expected running unit, got %s", snap.State)
	}
	if snap.Phase != "waiting for installer" {
		t.Fatalf("unexpected phase %q", snap.Phase)
	}
}

func TestObserveEmptyLogCompletesWithNoUpdates(t *testing.T) {
	snap := observeOnce(t, "\n")
	if snap.State != types.UnitCompleted {
		t.Fatalf("expected completed unit, got %s", snap.State)
	}
	if snap.Phase != "no updates" {
		t.Fatalf("unexpected phase %q", snap.Phase)
	}
}

func TestObserveProgressUpdatesPercent(t *testing.T) {
	content := "AVAILABLE: a\nAVAILABLE: b\nDOWNLOADED: a\n"
	snap := observeOnce(t, content)

	if snap.State != types.UnitRunning {
		t.Fatalf("expected running unit, got %s", snap.State)
	}
	// ((1/2)+(0/2))/2 = 25%
	if snap.Percent != 25 {
		t.Fatalf("expected 25%%, got %v", snap.Percent)
	}
}

func TestObserveFetchErrorIsTransient(t *testing.T) {
	track := tracker.New()
	unit := track.Register("sql-01")
	unit.Start("dispatched")

	monitor := &Monitor{}
	runner := &fakeRunner{host: "sql-01", err: errors.New("connection reset")}
	monitor.Observe(context.Background(), runner, "/var/log/patchrun/x.log", unit)

	if snap := unit.Snapshot(); snap.State != types.UnitRunning {
		t.Fatalf("fetch error should not terminate the unit, got %s", snap.State)
	}
}

func TestDispatchUpgradesStaleHelper(t *testing.T) {
	runner := &fakeRunner{host: "sql-01", outputs: []string{"1.2.0", "", ""}}

	dispatcher := &Dispatcher{ArtifactPath: "/mnt/share/updates", HelperMinVersion: "1.4.0"}
	if err := dispatcher.Dispatch(context.Background(), runner, "/var/log/patchrun/x.log"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// version query, helper install, artifact copy, detached trigger
	if len(runner.scripts) != 4 {
		t.Fatalf("expected 4 remote calls, got %d: %v", len(runner.scripts), runner.scripts)
	}
}

func TestDispatchSkipsCurrentHelper(t *testing.T) {
	runner := &fakeRunner{host: "sql-01", outputs: []string{"2.0.1", "", ""}}

	dispatcher := &Dispatcher{ArtifactPath: "/mnt/share/updates", HelperMinVersion: "1.4.0"}
	if err := dispatcher.Dispatch(context.Background(), runner, "/var/log/patchrun/x.log"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// version query, artifact copy, detached trigger
	if len(runner.scripts) != 3 {
		t.Fatalf("expected 3 remote calls, got %d: %v", len(runner.scripts), runner.scripts)
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.4.0", "1.4.0", 0},
		{"1.10.0", "1.9.9", 1},
		{"v2.0", "2.0.0", 0},
		{"missingish", "1.0.0", -1},
	}

	for _, tc := range cases {
		got := compareVersions(tc.a, tc.b)
		switch {
		case tc.want == 0 && got != 0,
			tc.want < 0 && got >= 0,
			tc.want > 0 && got <= 0:
			t.Fatalf("compareVersions(%q, %q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}
