// Package sshpool manages one SSH session per configured host, reused
// for the lifetime of a run, with parallel fan-out command execution.
package sshpool

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/obs"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectionError reports that a host's session is not alive when an
// operation needed it.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("ssh: %s: %v", e.Host, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that a command exceeded its allotted timeout.
type TimeoutError struct {
	Host    string
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ssh: %s: command %q timed out", e.Host, e.Command)
}

// hostBinding is one configured SSH host and its (possibly absent)
// runtime session.
type hostBinding struct {
	host    string
	client  *ssh.Client
	mu      sync.Mutex
	keepAliveCancel context.CancelFunc
}

// CommandResult is one host's entry in an execute_all fan-out, matching
// the Operation Result "never raises" contract: failures are entries, not
// panics or returned errors.
type CommandResult struct {
	Host     string
	NodeID   string
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
}

// Pool is the SSH Pool component (C2): one manager per configured host,
// built but not connected until ConnectAll.
type Pool struct {
	cfg      config.SSHConfig
	log      *obs.ContextLogger
	mu       sync.RWMutex
	bindings map[string]*hostBinding
}

// New builds (but does not open) a pool for the given hosts.
func New(cfg config.SSHConfig, log *obs.ContextLogger) *Pool {
	bindings := make(map[string]*hostBinding, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		bindings[h] = &hostBinding{host: h}
	}
	return &Pool{cfg: cfg, log: log, bindings: bindings}
}

func (p *Pool) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch p.cfg.AuthMethod() {
	case config.SSHAuthKeyFile:
		keyBytes, err := os.ReadFile(p.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case config.SSHAuthPassword:
		auth = append(auth, ssh.Password(p.cfg.Password))
	}

	hostKeyCallback, err := p.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := p.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// hostKeyCallback is strict by default; the explicit opt-out warns on
// every connection.
func (p *Pool) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !p.cfg.StrictHostKeyChecking {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			p.log.WithField("host", hostname).Warn("ssh strict host key checking disabled; accepting any host key")
			return nil
		}, nil
	}
	if p.cfg.KnownHostsFile == "" {
		return nil, fmt.Errorf("ssh: strict host key checking requires ssh_known_hosts_file")
	}
	cb, err := knownhosts.New(p.cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("ssh: loading known_hosts: %w", err)
	}
	return cb, nil
}

// ConnectAll attempts to connect every configured host and returns the
// set that succeeded; failures are logged, not returned as an error.
func (p *Pool) ConnectAll(ctx context.Context) []string {
	clientCfg, err := p.clientConfig()
	if err != nil {
		p.log.WithError(err).Error("ssh: cannot build client config")
		return nil
	}

	port := p.cfg.Port
	if port == 0 {
		port = 22
	}

	var ok []string
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, binding := range p.bindings {
		addr := fmt.Sprintf("%s:%d", host, port)
		client, err := ssh.Dial("tcp", addr, clientCfg)
		if err != nil {
			p.log.WithField("host", host).WithError(err).Warn("ssh: connect failed")
			continue
		}
		binding.client = client
		binding.keepAliveCancel = p.startKeepalive(client, host)
		ok = append(ok, host)
	}
	return ok
}

func (p *Pool) startKeepalive(client *ssh.Client, host string) context.CancelFunc {
	interval := p.cfg.KeepaliveInterval
	if interval == 0 {
		interval = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := client.SendRequest("keepalive@dbhealth", true, nil); err != nil {
					p.log.WithField("host", host).WithError(err).Debug("ssh: keepalive failed")
					return
				}
			}
		}
	}()
	return cancel
}

// Execute issues a command on a specific host. It returns ConnectionError
// if that host's session is not alive, and TimeoutError if the command
// exceeds timeout.
func (p *Pool) Execute(ctx context.Context, host, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	p.mu.RLock()
	binding, known := p.bindings[host]
	p.mu.RUnlock()
	if !known || binding.client == nil {
		return "", "", -1, &ConnectionError{Host: host, Err: fmt.Errorf("no active session")}
	}

	binding.mu.Lock()
	defer binding.mu.Unlock()

	session, err := binding.client.NewSession()
	if err != nil {
		return "", "", -1, &ConnectionError{Host: host, Err: err}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf limitedBuffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case runErr := <-done:
		code := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
			} else {
				return stdoutBuf.String(), stderrBuf.String(), -1, &ConnectionError{Host: host, Err: runErr}
			}
		}
		return stdoutBuf.String(), stderrBuf.String(), code, nil
	case <-time.After(timeout):
		_ = session.Signal(ssh.SIGKILL)
		return stdoutBuf.String(), stderrBuf.String(), -1, &TimeoutError{Host: host, Command: command}
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
	}
}

// ExecuteAll fans a command out to every connected host concurrently and
// aggregates results. It never raises: per-host failures become entries
// with Success=false, and every participating host appears exactly once.
func (p *Pool) ExecuteAll(ctx context.Context, command string, nodeIDs map[string]string) []CommandResult {
	p.mu.RLock()
	hosts := make([]string, 0, len(p.bindings))
	for h, b := range p.bindings {
		if b.client != nil {
			hosts = append(hosts, h)
		}
	}
	p.mu.RUnlock()

	results := make([]CommandResult, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			stdout, stderr, code, err := p.Execute(ctx, host, command, p.cfg.CommandTimeout)
			r := CommandResult{Host: host, NodeID: nodeIDs[host], ExitCode: code, Stdout: stdout, Stderr: stderr}
			if err != nil {
				r.Success = false
				r.Error = err.Error()
			} else {
				r.Success = code == 0
				if code != 0 {
					r.Error = fmt.Sprintf("exit status %d", code)
				}
			}
			results[i] = r
		}(i, host)
	}
	wg.Wait()
	return results
}

// CloseAll closes every open session; idempotent.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, binding := range p.bindings {
		binding.mu.Lock()
		if binding.keepAliveCancel != nil {
			binding.keepAliveCancel()
			binding.keepAliveCancel = nil
		}
		if binding.client != nil {
			_ = binding.client.Close()
			binding.client = nil
		}
		binding.mu.Unlock()
	}
}

// Connected reports whether a given host currently has a live session.
func (p *Pool) Connected(host string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bindings[host]
	return ok && b != nil && b.client != nil
}

// ConnectedHosts returns the hosts with a currently live session.
func (p *Pool) ConnectedHosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for h, b := range p.bindings {
		if b.client != nil {
			out = append(out, h)
		}
	}
	return out
}

type limitedBuffer struct {
	data []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.data) }
