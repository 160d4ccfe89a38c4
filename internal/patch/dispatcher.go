package patch

import (
	"context"
	"fmt"
	"strings"

	"github.com/platformsre/patchrun/internal/remote"
	"golang.org/x/mod/semver"
)

const installerDir = "/var/tmp/patchrun"

// Dispatcher prepares one server and triggers its detached installation
// task. Dispatch returns as soon as the task is launched; progress is the
// monitor's job.
type Dispatcher struct {
	ArtifactPath     string
	HelperMinVersion string
}

// Dispatch ensures the helper is current, stages the installer artifact on
// the target, and starts the detached install task writing to logPath.
func (d *Dispatcher) Dispatch(ctx context.Context, runner remote.Runner, logPath string) error {
	if err := d.ensureHelper(ctx, runner); err != nil {
		return err
	}

	// One copy per dispatch; a monitor-driven retry never re-pushes bytes.
	copyScript := fmt.Sprintf(`mkdir -p %s && cp -r "$1"/. %s/`, installerDir, installerDir)
	if _, err := runner.Run(ctx, copyScript, d.ArtifactPath); err != nil {
		return fmt.Errorf("failed to stage installer artifact on %s: %v", runner.Host(), err)
	}

	trigger := fmt.Sprintf(
		`sudo mkdir -p /var/log/patchrun && sudo nohup %s/install.sh "$1" >/dev/null 2>&1 & echo started`,
		installerDir,
	)
	if _, err := runner.Run(ctx, trigger, logPath); err != nil {
		return fmt.Errorf("failed to trigger installation on %s: %v", runner.Host(), err)
	}

	return nil
}

// ensureHelper checks the remote helper version and reinstalls it from the
// staged artifact when missing or stale.
func (d *Dispatcher) ensureHelper(ctx context.Context, runner remote.Runner) error {
	output, err := runner.Run(ctx, `patchrun-agent --version 2>/dev/null || echo missing`)
	if err != nil {
		return fmt.Errorf("helper version check failed on %s: %v", runner.Host(), err)
	}

	current := strings.TrimSpace(output)
	if current != "missing" && compareVersions(current, d.HelperMinVersion) >= 0 {
		return nil
	}
	// An unparseable version string compares below everything and gets
	// reinstalled, same as a missing helper.

	installScript := fmt.Sprintf(
		`mkdir -p %s && cp -r "$1"/. %s/ && sudo install -m 0755 %s/patchrun-agent /usr/local/bin/patchrun-agent`,
		installerDir, installerDir, installerDir,
	)
	if _, err := runner.Run(ctx, installScript, d.ArtifactPath); err != nil {
		return fmt.Errorf("helper upgrade failed on %s: %v", runner.Host(), err)
	}

	return nil
}

// compareVersions compares dotted version strings, tolerating output with
// or without the leading v the agent historically omitted.
func compareVersions(a, b string) int {
	return semver.Compare("v"+strings.TrimPrefix(a, "v"), "v"+strings.TrimPrefix(b, "v"))
}
