package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	sshPort       = 22
	fileSharePort = 445
)

// PortReachable dials a TCP port with a short timeout. Used by the validator
// for reachability and file-share checks, and by the reboot coordinator to
// detect a server coming back.
func PortReachable(host string, port int, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return fmt.Errorf("port %d on %s unreachable: %v", port, host, err)
	}
	conn.Close()
	return nil
}

func Reachable(host string, timeout time.Duration) error {
	return PortReachable(host, sshPort, timeout)
}

func FileShareReachable(host string, timeout time.Duration) error {
	return PortReachable(host, fileSharePort, timeout)
}

// ShellMajorVersion asks the remote shell for its version and parses the
// major component, e.g. "5.2.15(1)-release" -> 5.
func ShellMajorVersion(ctx context.Context, runner Runner) (int, error) {
	output, err := runner.Run(ctx, `echo "${BASH_VERSION%%.*}"`)
	if err != nil {
		return 0, fmt.Errorf("shell version query failed on %s: %v", runner.Host(), err)
	}

	major, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("unexpected shell version output %q from %s", strings.TrimSpace(output), runner.Host())
	}
	return major, nil
}

// WaitForReachable polls until the host accepts SSH connections again or
// attempts are exhausted. Each attempt is delayed first, so callers can
// issue a reboot and start waiting immediately.
func WaitForReachable(ctx context.Context, host string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s interrupted: %v", host, ctx.Err())
		case <-time.After(delay):
		}

		if lastErr = Reachable(host, 10*time.Second); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%s not reachable after %d attempts: %v", host, attempts, lastErr)
}
