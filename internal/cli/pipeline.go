package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platformsre/patchrun/internal/auth"
	"github.com/platformsre/patchrun/internal/db"
	"github.com/platformsre/patchrun/internal/helpers"
	"github.com/platformsre/patchrun/internal/patch"
	"github.com/platformsre/patchrun/internal/quiesce"
	"github.com/platformsre/patchrun/internal/reboot"
	"github.com/platformsre/patchrun/internal/release"
	"github.com/platformsre/patchrun/internal/remote"
	"github.com/platformsre/patchrun/internal/tracker"
	"github.com/platformsre/patchrun/internal/types"
	"github.com/platformsre/patchrun/internal/ui"
	"github.com/platformsre/patchrun/internal/validator"
)

// serverSession bundles the per-server handles one run holds: the SSH
// channel and the SQL connection. Nothing here is durable; an interrupted
// run starts over.
type serverSession struct {
	server types.Server
	runner *remote.SSHRunner
	store  *db.MaintenanceDB

	lockedDown bool
	flagsSet   bool
	failed     bool
}

// releaseEligible reports whether the release stage must visit this
// server. Deployment flags the gate wrote have to be cleared even when
// quiescence failed partway, and a re-run with the gate skipped has no
// record of what an earlier run left behind, so it visits every server.
func (s *serverSession) releaseEligible(gateSkipped bool) bool {
	if gateSkipped {
		return true
	}
	return s.flagsSet || s.lockedDown
}

type Pipeline struct {
	config   *types.Config
	servers  []types.Server
	sessions map[string]*serverSession
	runID    string

	unitsMu  sync.Mutex
	allUnits []types.UnitSnapshot
}

func newPipeline() (*Pipeline, error) {
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config types.Config
	if err := json.Unmarshal(configFile, &config); err != nil {
		return nil, fmt.Errorf("error parsing config: %v", err)
	}
	config.Maintenance.ApplyDefaults()

	servers, err := selectServers(&config)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:   &config,
		servers:  servers,
		sessions: make(map[string]*serverSession),
		runID:    uuid.New().String(),
	}, nil
}

// selectServers narrows the config's fleet to what --servers/--server-file
// asked for. No selection flag means the whole configured fleet.
func selectServers(config *types.Config) ([]types.Server, error) {
	var names []string
	switch {
	case serverList != "":
		names = helpers.ParseServerList(serverList)
	case serverFile != "":
		loaded, err := helpers.ReadServerFile(serverFile)
		if err != nil {
			return nil, err
		}
		names = loaded
	default:
		return config.Servers, nil
	}

	byHost := make(map[string]types.Server, len(config.Servers))
	for _, server := range config.Servers {
		byHost[server.Host] = server
	}

	var selected []types.Server
	for _, name := range names {
		server, ok := byHost[name]
		if !ok {
			return nil, fmt.Errorf("server %s is not in the config file", name)
		}
		selected = append(selected, server)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("no servers selected")
	}
	return selected, nil
}

func (p *Pipeline) Close() {
	for _, session := range p.sessions {
		if session.runner != nil {
			session.runner.Close()
		}
		if session.store != nil {
			session.store.Close()
		}
	}
}

func (p *Pipeline) Run(ctx context.Context) error {
	mode := validator.ModeFull
	if pingOnly {
		mode = validator.ModePingOnly
	}

	fmt.Println("Validating fleet...")
	prober := validator.NewFleetProber(p.servers)
	targets, err := validator.New(prober, p.config.Maintenance.MinShellMajor).Validate(ctx, p.servers, mode)
	if err != nil {
		return err
	}

	for _, target := range targets {
		log.Printf("%s: validated (shell v%d)", target.Name, target.ShellMajorVersion)
	}
	if pingOnly {
		return nil
	}

	if err := p.connect(ctx); err != nil {
		return err
	}

	if !skipQuiesce {
		p.runQuiesceStage(ctx)
	}

	if !skipPatch {
		p.runPatchStage(ctx)
	}

	if stopService != "" {
		p.stopExtraService(ctx)
	}

	if !skipReboot {
		if err := p.runRebootStage(ctx); err != nil {
			return err
		}
	}

	if !skipRelease {
		p.runReleaseStage(ctx)
	}

	failed := tracker.PrintSummary("MAINTENANCE RUN SUMMARY", p.allUnits)
	if failed > 0 {
		return fmt.Errorf("%d unit(s) failed", failed)
	}

	log.Println("Maintenance run completed ✅")
	return nil
}

func (p *Pipeline) connect(ctx context.Context) error {
	password, err := auth.GetMaintenancePassword(ctx)
	if err != nil {
		return err
	}

	terminals := make([]*ui.TerminalOutput, 0, len(p.servers))
	for _, server := range p.servers {
		terminal := ui.NewTerminalOutput(server.Host)
		terminals = append(terminals, terminal)
		spinner := ui.NewStepSpinner(server.Host)

		spinner.Start("Connecting over SSH")
		runner, err := remote.NewSSHRunner(server)
		if err != nil {
			spinner.Stop(false)
			return fmt.Errorf("%s: %s failed: %v", server.Host, spinner.GetCurrentStep(), err)
		}

		spinner.Start("Opening SQL connection")
		store, err := db.NewMaintenanceDB(db.DbConfig{
			Host:     server.Host,
			Port:     server.SQLPort,
			User:     p.config.Maintenance.SQLUser,
			Password: password,
		})
		if err != nil {
			spinner.Stop(false)
			runner.Close()
			return fmt.Errorf("%s: %s failed: %v", server.Host, spinner.GetCurrentStep(), err)
		}
		spinner.Stop(true)
		terminal.WriteLine("connected, %d database(s) in scope", len(server.Databases))

		p.sessions[server.Host] = &serverSession{
			server: server,
			runner: runner,
			store:  store,
		}
	}

	// The scroll windows are connection-time chatter; drop them so the
	// stage tables start on a clean screen.
	for _, terminal := range terminals {
		terminal.Clear()
	}
	return nil
}

// healthySessions returns the sessions still eligible for the next stage.
func (p *Pipeline) healthySessions() []*serverSession {
	var healthy []*serverSession
	for _, server := range p.servers {
		session := p.sessions[server.Host]
		if session != nil && !session.failed {
			healthy = append(healthy, session)
		}
	}
	return healthy
}

func (p *Pipeline) runQuiesceStage(ctx context.Context) {
	fmt.Println("Quiescing databases...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5)

	for _, session := range p.healthySessions() {
		wg.Add(1)
		go func(session *serverSession) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			gate := quiesce.NewGate(session.store, session.runner,
				p.config.Maintenance.SchedulerService, p.config.Maintenance.IngestionLogin)

			result := gate.Run(ctx, session.server.Host, session.server.Databases, p.runID)

			p.recordUnits(result.Units)
			session.lockedDown = result.LockedDown
			session.flagsSet = result.FlagsWritten()
			if result.Failed() || !result.LockedDown {
				session.failed = true
			}
		}(session)
	}

	wg.Wait()
}

func (p *Pipeline) runPatchStage(ctx context.Context) {
	sessions := p.healthySessions()
	if len(sessions) == 0 {
		log.Println("Warning: no servers eligible for patching")
		return
	}

	fmt.Println("Dispatching patch installation...")

	runners := make(map[string]remote.Runner, len(sessions))
	for _, session := range sessions {
		runners[session.server.Host] = session.runner
	}

	stage := patch.NewStage(
		p.config.Maintenance.ArtifactPath,
		p.config.Maintenance.HelperMinVersion,
		time.Duration(p.config.Maintenance.MonitorIntervalSec)*time.Second,
	)

	track := stage.Run(ctx, runners)
	snaps := track.Snapshot()
	p.recordUnits(snaps)

	for _, snap := range snaps {
		if snap.State == types.UnitFailed {
			p.sessions[snap.Server].failed = true
		}
	}
}

// stopExtraService handles the optional pre-reboot service stop, e.g. an
// application service that dislikes losing its database mid-write.
func (p *Pipeline) stopExtraService(ctx context.Context) {
	for _, session := range p.healthySessions() {
		script := fmt.Sprintf("sudo systemctl stop %s", stopService)
		if _, err := session.runner.Run(ctx, script); err != nil {
			log.Printf("Warning: failed to stop %s on %s: %v", stopService, session.server.Host, err)
		}
	}
}

func (p *Pipeline) runRebootStage(ctx context.Context) error {
	sessions := p.healthySessions()
	if len(sessions) == 0 {
		log.Println("Warning: no servers eligible for reboot")
		return nil
	}

	hosts := make([]string, len(sessions))
	for i, session := range sessions {
		hosts[i] = session.server.Host
	}

	confirmed, err := ui.ConfirmReboot(hosts, autoConfirm)
	if err != nil {
		return err
	}
	if !confirmed {
		log.Println("Warning: reboot declined, continuing with release")
		return nil
	}

	fmt.Println("Coordinating reboots...")

	targets := make([]reboot.Target, len(sessions))
	for i, session := range sessions {
		targets[i] = reboot.NewSSHTarget(session.runner, session.store)
	}

	coordinator := reboot.NewCoordinator(skipPrechecks, recheckUpdates)
	track := coordinator.Run(ctx, targets)
	snaps := track.Snapshot()
	p.recordUnits(snaps)

	for _, snap := range snaps {
		if snap.State == types.UnitFailed {
			p.sessions[snap.Server].failed = true
		}
	}
	return nil
}

// runReleaseStage runs for every server the gate touched, including
// ones that failed quiescence or a later stage: any deployment flag the
// gate set still needs clearing and any disabled loader re-enabling.
func (p *Pipeline) runReleaseStage(ctx context.Context) {
	fmt.Println("Releasing databases...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5)

	for _, server := range p.servers {
		session := p.sessions[server.Host]
		if session == nil || !session.releaseEligible(skipQuiesce) {
			continue
		}

		wg.Add(1)
		go func(session *serverSession) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			releaser := release.NewReleaser(session.store,
				p.config.Maintenance.IngestionLogin, p.config.Maintenance.BatchSize)

			result := releaser.Run(ctx, session.server.Host, session.server.Databases)

			p.recordUnits(result.Units)
			if result.Failed() {
				session.failed = true
			}
		}(session)
	}

	wg.Wait()
}

func (p *Pipeline) recordUnits(units []types.UnitSnapshot) {
	p.unitsMu.Lock()
	defer p.unitsMu.Unlock()
	p.allUnits = append(p.allUnits, units...)
}
