package helpers

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// GetCleanErrorMessage strips transport noise so the summary table shows
// the part of an error an operator can act on.
func GetCleanErrorMessage(err error) string {
	msg := err.Error()

	noisePatterns := []string{
		"failed to execute command:",
		"ssh: handshake failed:",
		"Process exited with status 1:",
	}

	for _, pattern := range noisePatterns {
		msg = strings.ReplaceAll(msg, pattern, "")
	}

	if idx := strings.Index(msg, "error:"); idx != -1 {
		msg = msg[idx+6:]
	}

	return strings.TrimSpace(msg)
}

type FlagConfig struct {
	Servers    string
	ServerFile string
	ConfigPath string
}

func ValidateFlags(cfg *FlagConfig) error {
	if cfg.Servers == "" && cfg.ServerFile == "" && cfg.ConfigPath == "" {
		return errors.New("a server list is required: --servers, --server-file or a config file")
	}

	if cfg.ServerFile != "" {
		if _, err := os.Stat(cfg.ServerFile); err != nil {
			return fmt.Errorf("server file error: %v", err)
		}
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file error: %v", err)
		}
	}

	return nil
}

// ParseServerList splits an inline comma-separated server flag, dropping
// empty entries from trailing commas.
func ParseServerList(raw string) []string {
	var servers []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			servers = append(servers, entry)
		}
	}
	return servers
}

// ReadServerFile loads one host per line, skipping blanks and # comments.
func ReadServerFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading server file: %v", err)
	}

	var servers []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		servers = append(servers, line)
	}
	return servers, nil
}

// ProcessErrors drains a closed error channel and folds the failures into
// one error labelled with the operation that produced them.
func ProcessErrors(operation string, errorChan chan error) error {
	var errs []string
	for err := range errorChan {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s failed:\n%s", operation, strings.Join(errs, "\n"))
	}

	return nil
}
