package patch

import (
	"strings"
	"time"
)

// The installer writes one line per update item to a dated log, tagged with
// a fixed prefix per phase. Classification is a plain prefix match; lines
// with no known prefix are installer chatter and ignored.
const (
	prefixAvailable  = "AVAILABLE:"
	prefixDownloaded = "DOWNLOADED:"
	prefixInstalled  = "INSTALLED:"
)

// Snapshot is one poll's classification of the remote patch log. It is
// re-derived from scratch every poll and never accumulated.
type Snapshot struct {
	Available  int
	Downloaded int
	Installed  int
	Empty      bool
}

// ParseLog classifies raw log content into phase counts.
func ParseLog(content string) Snapshot {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Snapshot{Empty: true}
	}

	var snap Snapshot
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, prefixAvailable):
			snap.Available++
		case strings.HasPrefix(line, prefixDownloaded):
			snap.Downloaded++
		case strings.HasPrefix(line, prefixInstalled):
			snap.Installed++
		}
	}
	return snap
}

// Progress computes the phase label and completion percentage. The percent
// is the average of download and install completion. A non-empty log with
// zero AVAILABLE lines is a race with the installer still enumerating
// updates, so it classifies as searching instead of dividing by zero.
func (s Snapshot) Progress() (string, float64) {
	if s.Empty {
		return "no updates", 100
	}
	if s.Available == 0 {
		return "searching", 0
	}

	n := float64(s.Available)
	percent := (float64(s.Downloaded)/n + float64(s.Installed)/n) / 2 * 100

	switch {
	case s.Installed >= s.Available:
		return "installed", percent
	case s.Downloaded >= s.Available:
		return "installing", percent
	default:
		return "downloading", percent
	}
}

// Done reports whether every enumerated update has been installed.
func (s Snapshot) Done() bool {
	if s.Empty {
		return true
	}
	return s.Available > 0 && s.Installed >= s.Available && s.Downloaded >= s.Available
}

// LogPath returns the dated log file the installer writes for a run
// starting at now.
func LogPath(now time.Time) string {
	return "/var/log/patchrun/patchrun-" + now.UTC().Format("20060102") + ".log"
}
