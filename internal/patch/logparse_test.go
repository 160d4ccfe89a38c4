package patch

import (
	"strings"
	"testing"
	"time"
)

func TestParseLogClassifiesByPrefix(t *testing.T) {
	content := strings.Join([]string{
		"AVAILABLE: KB5031356 Cumulative Update",
		"AVAILABLE: KB5032007 Security Update",
		"AVAILABLE: KB5031989 Servicing Stack",
		"starting download batch",
		"DOWNLOADED: KB5031356 Cumulative Update",
		"DOWNLOADED: KB5032007 Security Update",
		"INSTALLED: KB5031356 Cumulative Update",
	}, "\n")

	snap := ParseLog(content)
	if snap.Available != 3 || snap.Downloaded != 2 || snap.Installed != 1 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
	if snap.Empty {
		t.Fatal("non-empty log classified as empty")
	}
}

func TestProgressPercentFormula(t *testing.T) {
	snap := Snapshot{Available: 4, Downloaded: 2, Installed: 1}

	phase, percent := snap.Progress()
	// ((2/4)+(1/4))/2 = 0.375
	if percent != 37.5 {
		t.Fatalf("expected 37.5%%, got %v", percent)
	}
	if phase != "downloading" {
		t.Fatalf("expected downloading phase, got %q", phase)
	}
}

func TestProgressZeroAvailableIsSearching(t *testing.T) {
	snap := ParseLog("installer warming up\n")
	if snap.Empty {
		t.Fatal("chatter-only log classified as empty")
	}

	phase, percent := snap.Progress()
	if phase != "searching" {
		t.Fatalf("expected searching, got %q", phase)
	}
	if percent != 0 {
		t.Fatalf("expected 0%%, got %v", percent)
	}
	if snap.Done() {
		t.Fatal("searching snapshot reported done")
	}
}

func TestEmptyLogMeansNoUpdates(t *testing.T) {
	snap := ParseLog("   \n  \n")
	if !snap.Empty {
		t.Fatalf("expected empty classification: %+v", snap)
	}

	phase, percent := snap.Progress()
	if phase != "no updates" || percent != 100 {
		t.Fatalf("expected no updates/100%%, got %q/%v", phase, percent)
	}
	if !snap.Done() {
		t.Fatal("empty log should be done")
	}
}

func TestDoneRequiresFullInstall(t *testing.T) {
	partial := Snapshot{Available: 2, Downloaded: 2, Installed: 1}
	if partial.Done() {
		t.Fatal("partial install reported done")
	}

	full := Snapshot{Available: 2, Downloaded: 2, Installed: 2}
	if !full.Done() {
		t.Fatal("full install not reported done")
	}

	phase, percent := full.Progress()
	if phase != "installed" || percent != 100 {
		t.Fatalf("expected installed/100%%, got %q/%v", phase, percent)
	}
}

func TestLogPathIsDated(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if got := LogPath(now); got != "/var/log/patchrun/patchrun-20260314.log" {
		t.Fatalf("unexpected log path %q", got)
	}
}
