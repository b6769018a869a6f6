package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// sshConn is one authenticated connection to an array
type sshConn struct {
	client *ssh.Client
	label  string
}

// dialSSH opens and authenticates a connection
func dialSSH(ctx context.Context, cfg *Config, hostKeyCallback ssh.HostKeyCallback) (*sshConn, error) {
	klog.V(4).Infof("Connecting to array at %s as user %s", cfg.Address(), cfg.Username)

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, utils.NewAuthError("parse private key", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		password := cfg.Password
		sshConfig.Auth = []ssh.AuthMethod{
			ssh.Password(password),
			// ONTAP answers password logins through keyboard-interactive on some releases
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	netConn, err := dialer.DialContext(dialCtx, "tcp", cfg.Address())
	if err != nil {
		return nil, utils.NewTransportError("dial", err)
	}

	// Bound the handshake by the dial deadline
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, cfg.Address(), sshConfig)
	if err != nil {
		_ = netConn.Close()
		if isAuthFailure(err) {
			security.GetLogger().LogSSHAuthFailure(cfg.Username, cfg.Address(), err)
			return nil, utils.NewAuthError("login", err)
		}
		security.GetLogger().LogSSHConnectionFailure(cfg.Username, cfg.Address(), err)
		return nil, utils.NewTransportError("handshake", err)
	}
	_ = netConn.SetDeadline(time.Time{})

	klog.V(4).Infof("Connected to array at %s", cfg.Address())
	security.GetLogger().LogSSHConnectionSuccess(cfg.Username, cfg.Address())
	return &sshConn{client: ssh.NewClient(c, chans, reqs), label: cfg.Address()}, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// alive tests the connection by opening a session
func (c *sshConn) alive() bool {
	session, err := c.client.NewSession()
	if err != nil {
		return false
	}
	_ = session.Close()
	return true
}

func (c *sshConn) close() error {
	return c.client.Close()
}

// run executes one command. Cancellation of ctx closes the session and is
// reported as a transport error.
func (c *sshConn) run(ctx context.Context, command string) (string, error) {
	label := CommandLabel(command)
	klog.V(5).Infof("Executing command on array: %s", command)

	session, err := c.client.NewSession()
	if err != nil {
		return "", utils.NewTransportError(label, fmt.Errorf("failed to create SSH session: %w", err))
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", utils.NewTransportError(label, fmt.Errorf("command did not complete: %w", ctx.Err()))
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), &CommandError{
					Command:    command,
					ExitStatus: exitErr.ExitStatus(),
					Output:     stdout.String() + stderr.String(),
				}
			}
			return "", utils.NewTransportError(label, fmt.Errorf("failed to run command: %w", err))
		}
	}

	output := stdout.String()
	klog.V(5).Infof("Command output: %s", output)
	return output, nil
}

// pinnedHostKey accepts the first host key it sees and then only that key
type pinnedHostKey struct {
	mu          sync.Mutex
	key         []byte
	fingerprint string
}

func (p *pinnedHostKey) callback(hostname string, _ net.Addr, key ssh.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	marshaled := key.Marshal()
	if p.key == nil {
		p.key = marshaled
		p.fingerprint = ssh.FingerprintSHA256(key)
		klog.V(2).Infof("Pinned host key %s for %s", p.fingerprint, hostname)
		return nil
	}
	if !bytes.Equal(p.key, marshaled) {
		actual := ssh.FingerprintSHA256(key)
		security.GetLogger().LogSSHHostKeyMismatch(hostname, p.fingerprint, actual)
		return fmt.Errorf("host key for %s changed: got %s", hostname, actual)
	}
	return nil
}
