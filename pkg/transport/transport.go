// Package transport runs CLI commands on storage arrays over SSH.
//
// An Executor is an opaque blocking RPC client: one command in, its standard
// output back. The SSH implementation keeps a small pool of authenticated
// connections per array, limits the rate at which new connections are opened
// and stops talking to an array whose connections keep failing.
//
// Errors are classified with the storage error taxonomy in pkg/utils:
//   - utils.ErrTransport: dial failure, dropped connection, command timeout, open circuit
//   - utils.ErrAuth: the array rejected the credentials
//
// A command that ran but exited non-zero is reported as *CommandError carrying
// the output, so the vendor adapter can decide what the output means.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrPoolClosed is returned when attempting to use a closed pool
	ErrPoolClosed = errors.New("session pool is closed")

	// ErrCircuitOpen is returned while the array's circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Executor runs one CLI command on an array and returns its output
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
	Close() error
}

// Config describes how to reach one array
type Config struct {
	// Host is the management address of the array
	Host string

	// Port defaults to 22
	Port int

	// Username for SSH login
	Username string

	// Password is used when PrivateKey is empty
	Password string

	// PrivateKey in PEM form, preferred over Password when set
	PrivateKey []byte

	// HostKeyCallback verifies the array's host key. When nil the first key
	// seen is pinned and every later connection of the pool must present it.
	HostKeyCallback ssh.HostKeyCallback

	// InsecureSkipVerify disables host key verification explicitly
	InsecureSkipVerify bool

	// DialTimeout bounds connection establishment, default 10s
	DialTimeout time.Duration

	// CommandTimeout bounds each command, default 60s
	CommandTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" && len(c.PrivateKey) == 0 {
		return fmt.Errorf("password or private key is required")
	}
	return nil
}

// Address returns host:port
func (c *Config) Address() string {
	if strings.Contains(c.Host, ":") {
		return fmt.Sprintf("[%s]:%d", c.Host, c.Port)
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CommandError reports a command that ran on the array but exited non-zero
type CommandError struct {
	Command    string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed (exit %d): %s", CommandLabel(e.Command), e.ExitStatus, strings.TrimSpace(e.Output))
}

// CommandLabel drops the arguments of a command so it can be used as a log
// field or metric label: "system health alert delete -alert-id 7" becomes
// "system health alert delete".
func CommandLabel(command string) string {
	fields := strings.Fields(command)
	for i, f := range fields {
		if strings.HasPrefix(f, "-") {
			return strings.Join(fields[:i], " ")
		}
	}
	return strings.Join(fields, " ")
}
