package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platformsre/patchrun/internal/types"
	"golang.org/x/crypto/ssh"
)

// SSHRunner executes scripts on one fleet member over SSH. It satisfies
// Runner; every maintenance stage talks to its server through one of these.
type SSHRunner struct {
	host   string
	client *ssh.Client
	config *ssh.ClientConfig
}

func NewSSHRunner(server types.Server) (*SSHRunner, error) {
	keyPath := server.KeyPath

	if strings.HasPrefix(keyPath, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %v", err)
		}
		keyPath = filepath.Join(homeDir, keyPath[1:])
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read private key: %v", server.Host, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %v", err)
	}

	config := &ssh.ClientConfig{
		User: server.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:22", server.Host), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", server.Host, err)
	}

	return &SSHRunner{
		host:   server.Host,
		client: client,
		config: config,
	}, nil
}

func (s *SSHRunner) Host() string {
	return s.host
}

// Run executes a script with positional arguments and returns its combined
// stdout. The context bounds how long we wait for the session; the remote
// process itself is never killed on cancellation.
func (s *SSHRunner) Run(ctx context.Context, script string, args ...string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %v", err)
	}
	defer session.Close()

	command := script
	if len(args) > 0 {
		command = fmt.Sprintf("set -- %s\n%s", quoteArgs(args), script)
	}

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)

	go func() {
		output, err := session.Output(command)
		done <- result{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("command on %s interrupted: %v", s.host, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("failed to execute command on %s: %v", s.host, res.err)
		}
		return string(res.output), nil
	}
}

func (s *SSHRunner) Close() error {
	return s.client.Close()
}

// Redial replaces the underlying connection, used after a reboot when the
// old transport is dead.
func (s *SSHRunner) Redial() error {
	if s.client != nil {
		s.client.Close()
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:22", s.host), s.config)
	if err != nil {
		return fmt.Errorf("failed to reconnect to %s: %v", s.host, err)
	}

	s.client = client
	return nil
}
