package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/platformsre/patchrun/internal/remote"
	"github.com/platformsre/patchrun/internal/types"
)

// probeTimeout bounds the TCP dials behind the production prober.
const probeTimeout = 10 * time.Second

// FleetProber is the production Prober: TCP dials for reachability and file
// share, an SSH round trip for the shell version. It dials fresh per check
// so one server's dead connection cannot poison another check.
type FleetProber struct {
	servers map[string]types.Server
}

func NewFleetProber(servers []types.Server) *FleetProber {
	byHost := make(map[string]types.Server, len(servers))
	for _, server := range servers {
		byHost[server.Host] = server
	}
	return &FleetProber{servers: byHost}
}

func (p *FleetProber) Reachable(host string) error {
	return remote.Reachable(host, probeTimeout)
}

func (p *FleetProber) FileShareReachable(host string) error {
	return remote.FileShareReachable(host, probeTimeout)
}

func (p *FleetProber) ShellMajorVersion(ctx context.Context, host string) (int, error) {
	server, ok := p.servers[host]
	if !ok {
		return 0, fmt.Errorf("unknown server %s", host)
	}

	runner, err := remote.NewSSHRunner(server)
	if err != nil {
		return 0, err
	}
	defer runner.Close()

	return remote.ShellMajorVersion(ctx, runner)
}
