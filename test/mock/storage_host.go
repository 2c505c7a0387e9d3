package mock

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"
)

// exitCommandNotFound is what a POSIX shell returns for a missing binary
const exitCommandNotFound = 127

// StorageHost emulates a storage host reached over SSH. It answers the
// device listing, inventory and array commands the benchmark issues.
type StorageHost struct {
	address       string
	port          int
	listener      net.Listener
	sshConfig     *ssh.ServerConfig
	hostKey       ssh.Signer
	config        HostConfig
	timing        *TimingSimulator
	errorInjector *ErrorInjector

	disks          map[string]string // device path -> logical unit id (no 0x)
	pools          map[string]*MockPool
	commandHistory []CommandLog
	mu             sync.RWMutex
	shutdown       chan struct{}
}

// CommandLog represents a single command execution record
type CommandLog struct {
	Timestamp time.Time
	Command   string
	Response  string
	ExitCode  int
}

// NewStorageHost creates a mock host listening on port (0 picks a free port)
func NewStorageHost(port int) (*StorageHost, error) {
	config := LoadConfigFromEnv()

	hostKey, err := generateHostKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	sshConfig := &ssh.ServerConfig{NoClientAuth: true}
	sshConfig.AddHostKey(hostKey)

	return &StorageHost{
		address:        "localhost",
		port:           port,
		sshConfig:      sshConfig,
		hostKey:        hostKey,
		config:         config,
		timing:         NewTimingSimulator(config),
		errorInjector:  NewErrorInjector(config),
		disks:          make(map[string]string),
		pools:          make(map[string]*MockPool),
		commandHistory: make([]CommandLog, 0),
		shutdown:       make(chan struct{}),
	}, nil
}

// Start starts the SSH listener
func (s *StorageHost) Start() error {
	addr := net.JoinHostPort(s.address, fmt.Sprint(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	if s.port == 0 {
		if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
			s.port = tcpAddr.Port
		}
	}
	klog.Infof("Mock storage host listening on %s:%d", s.address, s.port)

	go s.acceptConnections()
	return nil
}

// Stop stops the listener
func (s *StorageHost) Stop() error {
	close(s.shutdown)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the server address
func (s *StorageHost) Address() string { return s.address }

// Port returns the server port
func (s *StorageHost) Port() int { return s.port }

// HostKey returns the server's public host key
func (s *StorageHost) HostKey() ssh.PublicKey { return s.hostKey.PublicKey() }

// Errors exposes the error injector so tests can switch modes at runtime
func (s *StorageHost) Errors() *ErrorInjector { return s.errorInjector }

// SetRecoveryPolls sets how many status calls a started resilver or scrub
// reports as in progress
func (s *StorageHost) SetRecoveryPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.RecoveryPolls = n
}

// AddDisk attaches a disk at devPath with logical unit id id (hex, no 0x)
func (s *StorageHost) AddDisk(devPath, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disks[devPath] = strings.ToLower(id)
}

// AddDisks attaches n disks /dev/sda.. with sequential identifiers
func (s *StorageHost) AddDisks(n int) {
	for i := 0; i < n; i++ {
		s.AddDisk(diskName(i), fmt.Sprintf("5000c500a1b2%04x", i))
	}
}

// diskName returns sda..sdz, then sdaa..
func diskName(i int) string {
	name := ""
	for {
		name = string(rune('a'+i%26)) + name
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	return "/dev/sd" + name
}

// Pool returns a copy of a pool's state
func (s *StorageHost) Pool(name string) (MockPool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	if !ok {
		return MockPool{}, false
	}
	return *p, true
}

// PoolNames returns the names of all existing pools, sorted
func (s *StorageHost) PoolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateLeftoverPool adds a pool as if a previous run had crashed
func (s *StorageHost) CreateLeftoverPool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[name] = &MockPool{Name: name, State: "ONLINE"}
}

// GetCommandHistory returns a copy of the command execution history
func (s *StorageHost) GetCommandHistory() []CommandLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]CommandLog, len(s.commandHistory))
	copy(history, s.commandHistory)
	return history
}

// CommandsMatching returns the recorded commands that start with prefix
func (s *StorageHost) CommandsMatching(prefix string) []string {
	var out []string
	for _, c := range s.GetCommandHistory() {
		if strings.HasPrefix(c.Command, prefix) {
			out = append(out, c.Command)
		}
	}
	return out
}

// ClearCommandHistory clears the command execution history
func (s *StorageHost) ClearCommandHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandHistory = make([]CommandLog, 0)
}

// ResetErrorInjector resets the error injector's operation counter
func (s *StorageHost) ResetErrorInjector() {
	s.errorInjector.Reset()
}

func (s *StorageHost) acceptConnections() {
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

func (s *StorageHost) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		klog.V(4).Infof("Mock host handshake failed: %v", err)
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

func (s *StorageHost) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = channel.Close() }()

	s.timing.SimulateSSHLatency()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				klog.Warningf("Mock host: invalid exec payload: %v", err)
				_ = req.Reply(false, nil)
				continue
			}
			if s.errorInjector.ShouldFailSSHConnect() {
				klog.V(2).Infof("MOCK ERROR INJECTION: dropping session for %q", payload.Command)
				_ = req.Reply(false, nil)
				return
			}

			stdout, stderr, exitStatus := s.executeCommand(payload.Command)
			_ = req.Reply(true, nil)
			if stdout != "" {
				_, _ = channel.Write([]byte(stdout))
			}
			if stderr != "" {
				_, _ = channel.Stderr().Write([]byte(stderr))
			}
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{Status: uint32(exitStatus)}))
			return

		case "signal":
			// Cancelled command; the client closes the channel next
			_ = req.Reply(true, nil)
			return

		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (s *StorageHost) executeCommand(command string) (string, string, int) {
	command = strings.TrimSpace(command)
	klog.V(4).Infof("Mock host executing: %s", command)

	args, err := splitWords(command)
	var stdout, stderr string
	var exitCode int
	switch {
	case err != nil:
		stderr, exitCode = fmt.Sprintf("sh: syntax error: %v\n", err), 2
	case len(args) == 0:
		exitCode = 0
	case args[0] == "sh" && len(args) == 3 && args[1] == "-c":
		stdout, stderr, exitCode = s.handleShell(args[2])
	case args[0] == "smartctl":
		stdout, stderr, exitCode = s.handleSmartctl(args[1:])
	case args[0] == "zpool":
		stdout, stderr, exitCode = s.handleZpool(args[1:])
	default:
		stderr, exitCode = fmt.Sprintf("sh: %s: command not found\n", args[0]), exitCommandNotFound
	}

	s.recordCommand(command, stdout+stderr, exitCode)
	return stdout, stderr, exitCode
}

func (s *StorageHost) recordCommand(command, response string, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.EnableHistory {
		return
	}
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

// splitWords splits a command line the way a POSIX shell would for the
// quoting the runner produces: bare words, single and double quotes without escapes.
func splitWords(line string) ([]string, error) {
	var words []string
	var cur strings.Builder
	var quote rune
	inWord := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func generateHostKey() (ssh.Signer, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated key: %w", err)
	}
	return signer, nil
}
