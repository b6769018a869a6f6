package mock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// TestLoadConfigFromEnv_Defaults validates default configuration values when no env vars are set
func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"MOCK_ONTAP_REALISTIC_TIMING",
		"MOCK_ONTAP_SSH_LATENCY_MS",
		"MOCK_ONTAP_SSH_LATENCY_JITTER_MS",
		"MOCK_ONTAP_COMMAND_DELAY_MS",
		"MOCK_ONTAP_ERROR_MODE",
		"MOCK_ONTAP_ERROR_AFTER_N",
		"MOCK_ONTAP_ENABLE_HISTORY",
		"MOCK_ONTAP_HISTORY_DEPTH",
	} {
		os.Unsetenv(key)
	}

	config := LoadConfigFromEnv()

	if config.RealisticTiming {
		t.Errorf("expected RealisticTiming=false, got %v", config.RealisticTiming)
	}
	if config.SSHLatencyMs != 200 {
		t.Errorf("expected SSHLatencyMs=200, got %d", config.SSHLatencyMs)
	}
	if config.CommandDelayMs != 0 {
		t.Errorf("expected CommandDelayMs=0, got %d", config.CommandDelayMs)
	}
	if config.ErrorMode != "none" {
		t.Errorf("expected ErrorMode=none, got %s", config.ErrorMode)
	}
	if !config.EnableHistory {
		t.Errorf("expected EnableHistory=true, got %v", config.EnableHistory)
	}
	if config.HistoryDepth != 100 {
		t.Errorf("expected HistoryDepth=100, got %d", config.HistoryDepth)
	}
}

func TestLoadConfigFromEnv_IntegerParsing(t *testing.T) {
	t.Setenv("MOCK_ONTAP_ERROR_AFTER_N", "3")
	t.Setenv("MOCK_ONTAP_HISTORY_DEPTH", "not-a-number")

	config := LoadConfigFromEnv()
	if config.ErrorAfterN != 3 {
		t.Errorf("expected ErrorAfterN=3, got %d", config.ErrorAfterN)
	}
	if config.HistoryDepth != 100 {
		t.Errorf("expected invalid HistoryDepth to fall back to 100, got %d", config.HistoryDepth)
	}
}

func TestParseErrorMode(t *testing.T) {
	tests := []struct {
		input    string
		expected ErrorMode
	}{
		{"none", ErrorModeNone},
		{"", ErrorModeNone},
		{"command_fail", ErrorModeCommandFail},
		{"hang", ErrorModeHang},
		{"bogus", ErrorModeNone},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseErrorMode(tt.input); got != tt.expected {
				t.Errorf("ParseErrorMode(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestErrorInjector_AfterN(t *testing.T) {
	injector := NewErrorInjector(MockONTAPConfig{ErrorMode: "command_fail", ErrorAfterN: 2})

	for i := 0; i < 2; i++ {
		if mode := injector.Next(); mode != ErrorModeNone {
			t.Fatalf("operation %d: expected no error, got %v", i+1, mode)
		}
	}
	if mode := injector.Next(); mode != ErrorModeCommandFail {
		t.Errorf("operation 3: expected command failure, got %v", mode)
	}

	injector.Reset()
	if mode := injector.Next(); mode != ErrorModeNone {
		t.Errorf("after reset: expected no error, got %v", mode)
	}
}

func TestErrorInjector_SetMode(t *testing.T) {
	injector := NewErrorInjector(MockONTAPConfig{})
	if mode := injector.Next(); mode != ErrorModeNone {
		t.Fatalf("expected no error, got %v", mode)
	}

	injector.SetMode(ErrorModeHang, 0)
	if mode := injector.Next(); mode != ErrorModeHang {
		t.Errorf("expected hang, got %v", mode)
	}
}

func startServer(t *testing.T) *MockONTAPServer {
	t.Helper()
	server, err := NewMockONTAPServer(0, "admin", "netapp1!")
	if err != nil {
		t.Fatalf("NewMockONTAPServer: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func runCommand(t *testing.T, server *MockONTAPServer, password, command string) (string, error) {
	t.Helper()
	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", server.Address(), server.Port()), &ssh.ClientConfig{
		User:            "admin",
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	err = session.Run(command)
	return stdout.String(), err
}

func TestMockONTAPServer_FixtureCommand(t *testing.T) {
	server := startServer(t)

	output, err := runCommand(t, server, "netapp1!", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(output, "NetApp Release 9.8") {
		t.Errorf("unexpected version output: %q", output)
	}
	if server.CommandCount("version") != 1 {
		t.Errorf("expected one recorded version command, got %d", server.CommandCount("version"))
	}
	if server.Logins() != 1 {
		t.Errorf("expected one login, got %d", server.Logins())
	}
}

func TestMockONTAPServer_RejectsBadPassword(t *testing.T) {
	server := startServer(t)

	if _, err := runCommand(t, server, "wrong", "version"); err == nil {
		t.Fatal("expected authentication failure")
	}
	if server.Logins() != 0 {
		t.Errorf("expected no successful login, got %d", server.Logins())
	}
}

func TestMockONTAPServer_UnknownCommand(t *testing.T) {
	server := startServer(t)

	output, err := runCommand(t, server, "netapp1!", "storage shelf show")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}
	if !strings.Contains(output, "is not a recognized command") {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestMockONTAPServer_ClearAlert(t *testing.T) {
	server := startServer(t)

	if _, err := runCommand(t, server, "netapp1!", "system health alert delete -alert-id DualPathToDiskShelf_Alert"); err != nil {
		t.Errorf("expected known alert to be deleted, got %v", err)
	}

	output, err := runCommand(t, server, "netapp1!", "system health alert delete -alert-id Nope")
	if err == nil {
		t.Fatal("expected failure for unknown alert")
	}
	if !strings.Contains(output, "entry doesn't exist") {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestMockONTAPServer_CommandFailInjection(t *testing.T) {
	server := startServer(t)
	server.ErrorInjector().SetMode(ErrorModeCommandFail, 0)

	output, err := runCommand(t, server, "netapp1!", "version")
	if err == nil {
		t.Fatal("expected injected failure")
	}
	if !strings.HasPrefix(output, "Error:") {
		t.Errorf("unexpected output: %q", output)
	}
}
