package validator

import (
	"context"
	"fmt"
	"sync"

	"github.com/platformsre/patchrun/internal/helpers"
	"github.com/platformsre/patchrun/internal/types"
)

type Mode string

const (
	ModeFull     Mode = "full"
	ModePingOnly Mode = "ping-only"
)

// Prober abstracts the three per-server checks so the validation policy can
// be tested without a live fleet. The production implementation lives in
// this package and delegates to internal/remote.
type Prober interface {
	Reachable(host string) error
	ShellMajorVersion(ctx context.Context, host string) (int, error)
	FileShareReachable(host string) error
}

// Validator verifies the whole candidate fleet before any maintenance stage
// is allowed to start. The policy is deliberately fail-fast: one failed
// check on one server fails the entire validation, because staging
// maintenance against half a validated fleet is worse than aborting.
type Validator struct {
	prober        Prober
	minShellMajor int
}

func New(prober Prober, minShellMajor int) *Validator {
	return &Validator{
		prober:        prober,
		minShellMajor: minShellMajor,
	}
}

// Validate runs every check against every server and returns the immutable
// targets on success. In ping-only mode just reachability is checked; the
// exec and file-share fields are reported as passing.
func (v *Validator) Validate(ctx context.Context, servers []types.Server, mode Mode) ([]types.ServerTarget, error) {
	targets := make([]types.ServerTarget, len(servers))

	var wg sync.WaitGroup
	errorChan := make(chan error, len(servers)*3)

	for i, server := range servers {
		wg.Add(1)
		go func(i int, server types.Server) {
			defer wg.Done()
			targets[i] = v.validateServer(ctx, server, mode, errorChan)
		}(i, server)
	}

	wg.Wait()
	close(errorChan)

	if err := helpers.ProcessErrors("fleet validation", errorChan); err != nil {
		return nil, err
	}
	return targets, nil
}

// validateServer runs the checks for one server independently; each check
// converts its error into a failed check so the others still run and the
// report covers everything that is wrong.
func (v *Validator) validateServer(ctx context.Context, server types.Server, mode Mode, errorChan chan<- error) types.ServerTarget {
	target := types.ServerTarget{Name: server.Host}

	if err := v.prober.Reachable(server.Host); err != nil {
		errorChan <- fmt.Errorf("%s: reachability check failed: %v", server.Host, err)
	} else {
		target.Reachable = true
	}

	if mode == ModePingOnly {
		target.RemoteExecCapable = true
		target.FileShareReachable = true
		return target
	}

	major, err := v.prober.ShellMajorVersion(ctx, server.Host)
	switch {
	case err != nil:
		errorChan <- fmt.Errorf("%s: remote execution check failed: %v", server.Host, err)
	case major < v.minShellMajor:
		errorChan <- fmt.Errorf("%s: shell major version %d below required %d", server.Host, major, v.minShellMajor)
		target.ShellMajorVersion = major
	default:
		target.RemoteExecCapable = true
		target.ShellMajorVersion = major
	}

	if err := v.prober.FileShareReachable(server.Host); err != nil {
		errorChan <- fmt.Errorf("%s: file share check failed: %v", server.Host, err)
	} else {
		target.FileShareReachable = true
	}

	return target
}
