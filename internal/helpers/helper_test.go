package helpers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseServerList(t *testing.T) {
	servers := ParseServerList("sql-01, sql-02,,sql-03,")
	if len(servers) != 3 || servers[2] != "sql-03" {
		t.Fatalf("unexpected servers: %v", servers)
	}
}

func TestReadServerFileSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.txt")
	content := "# production fleet\nsql-01\n\nsql-02\n  # staging below\nsql-03\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fleet file: %v", err)
	}

	servers, err := ReadServerFile(path)
	if err != nil {
		t.Fatalf("ReadServerFile: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("expected 3 servers, got %v", servers)
	}
}

func TestProcessErrorsAggregates(t *testing.T) {
	errorChan := make(chan error, 3)
	errorChan <- errors.New("sql-01: unreachable")
	errorChan <- nil
	errorChan <- errors.New("sql-02: auth failed")
	close(errorChan)

	err := ProcessErrors("fleet validation", errorChan)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "sql-01") || !strings.Contains(err.Error(), "sql-02") {
		t.Fatalf("missing failures in %v", err)
	}
	if !strings.Contains(err.Error(), "fleet validation failed") {
		t.Fatalf("missing operation label in %v", err)
	}
}

func TestProcessErrorsEmptyIsNil(t *testing.T) {
	errorChan := make(chan error, 1)
	close(errorChan)

	if err := ProcessErrors("fleet validation", errorChan); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateFlagsRequiresServerSource(t *testing.T) {
	if err := ValidateFlags(&FlagConfig{}); err == nil {
		t.Fatal("expected error with no server source")
	}
}

func TestGetCleanErrorMessageStripsNoise(t *testing.T) {
	err := errors.New("failed to execute command: ssh: handshake failed: auth rejected")
	if got := GetCleanErrorMessage(err); strings.Contains(got, "handshake failed") {
		t.Fatalf("noise not stripped: %q", got)
	}
}
