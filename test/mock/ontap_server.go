package mock

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"
)

// MockONTAPServer simulates the SSH CLI of a clustered ONTAP system
type MockONTAPServer struct {
	address        string
	port           int
	username       string
	password       string
	listener       net.Listener
	sshConfig      *ssh.ServerConfig
	config         MockONTAPConfig
	timing         *TimingSimulator
	errorInjector  *ErrorInjector
	outputs        map[string]string
	commandHistory []CommandLog
	logins         int
	mu             sync.RWMutex
	shutdown       chan struct{}
	closeOnce      sync.Once
}

// CommandLog represents a single command execution record
type CommandLog struct {
	Timestamp time.Time
	Command   string
	Response  string
	ExitCode  int
}

// NewMockONTAPServer creates a server answering with FixtureOutputs. Only the
// given username and password are accepted.
func NewMockONTAPServer(port int, username, password string) (*MockONTAPServer, error) {
	config := LoadConfigFromEnv()

	server := &MockONTAPServer{
		address:        "127.0.0.1",
		port:           port,
		username:       username,
		password:       password,
		config:         config,
		timing:         NewTimingSimulator(config),
		errorInjector:  NewErrorInjector(config),
		outputs:        make(map[string]string, len(FixtureOutputs)),
		commandHistory: make([]CommandLog, 0),
		shutdown:       make(chan struct{}),
	}
	for cmd, out := range FixtureOutputs {
		server.outputs[cmd] = out
	}

	sshConfig := &ssh.ServerConfig{
		PasswordCallback: server.checkPassword,
	}

	hostKey, err := generateHostKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	sshConfig.AddHostKey(hostKey)
	server.sshConfig = sshConfig

	return server, nil
}

func (s *MockONTAPServer) checkPassword(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if conn.User() == s.username && string(password) == s.password {
		s.mu.Lock()
		s.logins++
		s.mu.Unlock()
		return nil, nil
	}
	return nil, fmt.Errorf("password rejected for %q", conn.User())
}

// Start starts the mock SSH server
func (s *MockONTAPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener

	// Update port if it was 0 (random port assignment)
	if s.port == 0 {
		if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
			s.port = tcpAddr.Port
		}
	}

	klog.Infof("Mock ONTAP server listening on %s:%d", s.address, s.port)

	go s.acceptConnections()

	return nil
}

// Stop stops the mock server
func (s *MockONTAPServer) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

// Address returns the server address
func (s *MockONTAPServer) Address() string {
	return s.address
}

// Port returns the server port
func (s *MockONTAPServer) Port() int {
	return s.port
}

// SetOutput replaces the reply to command
func (s *MockONTAPServer) SetOutput(command, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[command] = output
}

// ErrorInjector exposes the injector so tests can switch modes at runtime
func (s *MockONTAPServer) ErrorInjector() *ErrorInjector {
	return s.errorInjector
}

// Logins returns the number of successful authentications
func (s *MockONTAPServer) Logins() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logins
}

// GetCommandHistory returns a copy of the command execution history
func (s *MockONTAPServer) GetCommandHistory() []CommandLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]CommandLog, len(s.commandHistory))
	copy(history, s.commandHistory)
	return history
}

// CommandCount returns how often command was executed
func (s *MockONTAPServer) CommandCount(command string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.commandHistory {
		if c.Command == command {
			n++
		}
	}
	return n
}

// ClearCommandHistory clears the command execution history
func (s *MockONTAPServer) ClearCommandHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandHistory = make([]CommandLog, 0)
}

func (s *MockONTAPServer) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				klog.Errorf("Failed to accept connection: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *MockONTAPServer) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		klog.V(4).Infof("Failed to handshake: %v", err)
		return
	}
	defer func() { _ = sshConn.Close() }()

	klog.V(4).Infof("New SSH connection from %s", sshConn.RemoteAddr())

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			klog.Errorf("Could not accept channel: %v", err)
			continue
		}

		go s.handleSession(channel, requests)
	}
}

func (s *MockONTAPServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = channel.Close() }()

	s.timing.SimulateSSHLatency()

	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			klog.Warningf("Mock ONTAP: invalid exec payload: %v", err)
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.timing.SimulateCommand()

		switch s.errorInjector.Next() {
		case ErrorModeHang:
			klog.V(2).Infof("MOCK ERROR INJECTION: hanging on %q", payload.Command)
			s.hang(channel)
			return
		case ErrorModeCommandFail:
			klog.V(2).Infof("MOCK ERROR INJECTION: failing %q", payload.Command)
			s.reply(channel, payload.Command, "Error: command failed: internal error\r\n", 1)
			return
		}

		response, exitStatus := s.executeCommand(payload.Command)
		s.reply(channel, payload.Command, response, exitStatus)
		return
	}
}

func (s *MockONTAPServer) reply(channel ssh.Channel, command, response string, exitStatus int) {
	s.recordCommand(command, response, exitStatus)
	if response != "" {
		_, _ = channel.Write([]byte(response))
	}
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{Status: uint32(exitStatus)}))
}

// hang blocks until the client gives up on the session or the server stops
func (s *MockONTAPServer) hang(channel ssh.Channel) {
	closed := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, channel)
		close(closed)
	}()
	select {
	case <-closed:
	case <-s.shutdown:
	}
}

func (s *MockONTAPServer) executeCommand(command string) (string, int) {
	command = strings.TrimSpace(command)
	klog.V(3).Infof("Mock ONTAP executing command: %s", command)

	if strings.HasPrefix(command, "system health alert delete -alert-id ") {
		id := strings.TrimPrefix(command, "system health alert delete -alert-id ")
		if strings.Contains(s.lookup("system health alert show -instance"), "Alert ID: "+id) {
			return "", 0
		}
		return "Error: command failed: entry doesn't exist\r\n", 1
	}

	if out, ok := s.lookupOK(command); ok {
		return out, 0
	}

	klog.Warningf("Mock ONTAP: Unrecognized command: %s", command)
	return fmt.Sprintf("Error: \"%s\" is not a recognized command\r\n", command), 1
}

func (s *MockONTAPServer) lookup(command string) string {
	out, _ := s.lookupOK(command)
	return out
}

func (s *MockONTAPServer) lookupOK(command string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[command]
	return out, ok
}

// recordCommand adds a command execution to the history log
func (s *MockONTAPServer) recordCommand(command, response string, exitCode int) {
	if !s.config.EnableHistory {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commandHistory) >= s.config.HistoryDepth {
		s.commandHistory = s.commandHistory[1:]
	}

	s.commandHistory = append(s.commandHistory, CommandLog{
		Timestamp: time.Now(),
		Command:   command,
		Response:  response,
		ExitCode:  exitCode,
	})
}

func generateHostKey() (ssh.Signer, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	return ssh.NewSignerFromKey(privateKey)
}
