// Package mock provides an environment-configurable mock ONTAP SSH server for testing.
//
// Environment Variables:
//
// Timing Control:
//   - MOCK_ONTAP_REALISTIC_TIMING: Enable realistic timing simulation (default: false)
//   - MOCK_ONTAP_SSH_LATENCY_MS: Session start latency in ms (default: 200)
//   - MOCK_ONTAP_SSH_LATENCY_JITTER_MS: Latency jitter range in ms (default: 50)
//   - MOCK_ONTAP_COMMAND_DELAY_MS: Delay before every command reply in ms (default: 0)
//
// Error Injection:
//   - MOCK_ONTAP_ERROR_MODE: Error injection mode (none|command_fail|hang)
//   - MOCK_ONTAP_ERROR_AFTER_N: Fail after N commands (default: 0 = immediate)
//
// Observability:
//   - MOCK_ONTAP_ENABLE_HISTORY: Enable command history tracking (default: true)
//   - MOCK_ONTAP_HISTORY_DEPTH: Maximum history entries (default: 100)
package mock

import (
	"os"
	"strconv"
)

// MockONTAPConfig holds configuration for mock server behavior
type MockONTAPConfig struct {
	// Timing control
	RealisticTiming    bool // MOCK_ONTAP_REALISTIC_TIMING (default: false)
	SSHLatencyMs       int  // MOCK_ONTAP_SSH_LATENCY_MS (default: 200)
	SSHLatencyJitterMs int  // MOCK_ONTAP_SSH_LATENCY_JITTER_MS (default: 50)
	CommandDelayMs     int  // MOCK_ONTAP_COMMAND_DELAY_MS (default: 0)

	// Error injection
	ErrorMode   string // MOCK_ONTAP_ERROR_MODE (none|command_fail|hang)
	ErrorAfterN int    // MOCK_ONTAP_ERROR_AFTER_N (default: 0 = immediate)

	// Observability
	EnableHistory bool // MOCK_ONTAP_ENABLE_HISTORY (default: true)
	HistoryDepth  int  // MOCK_ONTAP_HISTORY_DEPTH (default: 100)
}

// LoadConfigFromEnv loads mock server configuration from environment variables
func LoadConfigFromEnv() MockONTAPConfig {
	return MockONTAPConfig{
		RealisticTiming:    getEnvBool("MOCK_ONTAP_REALISTIC_TIMING", false),
		SSHLatencyMs:       getEnvInt("MOCK_ONTAP_SSH_LATENCY_MS", 200),
		SSHLatencyJitterMs: getEnvInt("MOCK_ONTAP_SSH_LATENCY_JITTER_MS", 50),
		CommandDelayMs:     getEnvInt("MOCK_ONTAP_COMMAND_DELAY_MS", 0),
		ErrorMode:          getEnvString("MOCK_ONTAP_ERROR_MODE", "none"),
		ErrorAfterN:        getEnvInt("MOCK_ONTAP_ERROR_AFTER_N", 0),
		EnableHistory:      getEnvBool("MOCK_ONTAP_ENABLE_HISTORY", true),
		HistoryDepth:       getEnvInt("MOCK_ONTAP_HISTORY_DEPTH", 100),
	}
}

// getEnvBool reads a boolean environment variable with a default value
func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1" || val == "yes"
}

// getEnvInt reads an integer environment variable with a default value
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvString reads a string environment variable with a default value
func getEnvString(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
