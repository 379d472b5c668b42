package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of a managed child.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusFailed     Status = "failed"
)

const (
	// maxHealthFailures consecutive failed checks kill the child.
	maxHealthFailures  = 3
	healthCheckTimeout = 5 * time.Second
	maxRelayLine       = 64 * 1024
)

// Config describes one child process.
type Config struct {
	Name   string // "bank", "robot"; used in logs
	Binary string
	Args   []string
	Env    []string // appended to the parent's environment

	RestartOnFailure   bool
	RestartDelay       time.Duration // flat pause before each restart
	MaxRestartAttempts int           // 0 is unlimited

	// GracefulTimeout is the wait between SIGTERM and SIGKILL on Stop.
	GracefulTimeout time.Duration

	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart func(pid int)
	OnStop  func(err error) // nil err for a requested stop
}

// Logger is the subset of logging.Logger the manager uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager keeps one child running: it relays the child's output to the
// logger, restarts it after unexpected exits and kills it when its health
// check keeps failing. The child runs in its own process group so signals
// reach anything it spawns.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	config Config

	logMu  sync.RWMutex
	logger Logger

	mu       sync.Mutex
	status   Status
	pid      int
	since    time.Time
	restarts int
	lastErr  error
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// child is one spawned process. exit receives the Wait result once the
// output relays have drained.
type child struct {
	cmd  *exec.Cmd
	exit chan error
}

// NewManager applies defaults: 5s restart delay, 10s graceful timeout, 30s
// health check interval.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	return &Manager{config: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger replaces the logger; nil silences it.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logMu.Lock()
	m.logger = logger
	m.logMu.Unlock()
}

func (m *Manager) log() Logger {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	return m.logger
}

// Name returns the child's name.
func (m *Manager) Name() string { return m.config.Name }

// Start spawns the child and supervises it in the background until Stop or
// until restarts are exhausted. ctx bounds restarts and health checks but
// cancelling it does not kill a running child; use Stop for that.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		select {
		case <-m.done:
		default:
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
		}
	}
	m.status = StatusStarting
	m.stopping = false
	m.restarts = 0
	m.lastErr = nil
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done

	c, err := m.spawnLocked()
	if err != nil {
		m.status = StatusFailed
		m.lastErr = err
		close(done)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	go m.supervise(ctx, c, stop, done)
	return nil
}

// spawnLocked starts the binary. m.mu must be held so a concurrent Stop
// either sees the new pid or prevents the spawn.
func (m *Manager) spawnLocked() (*child, error) {
	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from the supervisor config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(m.config.Env) > 0 {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", m.config.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stderr: %w", m.config.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	c := &child{cmd: cmd, exit: make(chan error, 1)}
	var relays sync.WaitGroup
	relays.Add(2)
	go m.relay(&relays, "stdout", stdout)
	go m.relay(&relays, "stderr", stderr)
	go func() {
		relays.Wait()
		c.exit <- cmd.Wait()
	}()

	m.status = StatusRunning
	m.pid = cmd.Process.Pid
	m.since = time.Now()
	return c, nil
}

func (m *Manager) relay(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxRelayLine)
	for sc.Scan() {
		m.log().Info("child output", "name", m.config.Name, "stream", stream, "line", sc.Text())
	}
	// Keep draining past an over-long line so the child never blocks on a
	// full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (m *Manager) supervise(ctx context.Context, c *child, stop, done chan struct{}) {
	defer close(done)

	for c != nil {
		pid := c.cmd.Process.Pid
		m.log().Info("process started", "name", m.config.Name, "pid", pid, "args", m.config.Args)
		if m.config.OnStart != nil {
			m.config.OnStart(pid)
		}

		err := m.await(ctx, c)

		m.mu.Lock()
		requested := m.stopping
		if requested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastErr = err
		}
		m.mu.Unlock()

		if requested {
			m.log().Info("process stopped", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}
		m.log().Warn("process exited", "name", m.config.Name, "error", err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}
		c = m.respawn(ctx, stop)
	}
}

// await blocks until the child exits. A clean exit is reported as
// ErrExited; repeated health check failures kill the group and report
// ErrUnhealthy.
func (m *Manager) await(ctx context.Context, c *child) error {
	var tick <-chan time.Time
	if m.config.HealthCheck != nil {
		t := time.NewTicker(m.config.HealthCheckInterval)
		defer t.Stop()
		tick = t.C
	}

	failures := 0
	for {
		select {
		case err := <-c.exit:
			if err == nil {
				return ErrExited
			}
			return err
		case <-tick:
			if ctx.Err() != nil {
				continue
			}
			if err := m.checkHealth(ctx); err != nil {
				failures++
				m.log().Warn("health check failed", "name", m.config.Name, "error", err, "consecutive", failures)
			} else {
				failures = 0
			}
			if failures < maxHealthFailures {
				continue
			}
			m.log().Error("killing unhealthy process", "name", m.config.Name, "pid", c.cmd.Process.Pid)
			_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
			<-c.exit
			return fmt.Errorf("%w: %d consecutive failures", ErrUnhealthy, failures)
		}
	}
}

func (m *Manager) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return m.config.HealthCheck(ctx)
}

// respawn waits out the restart delay and spawns again. It returns nil when
// restarts are off or exhausted, ctx ends, or Stop was called.
func (m *Manager) respawn(ctx context.Context, stop chan struct{}) *child {
	if !m.config.RestartOnFailure {
		return nil
	}
	for {
		m.mu.Lock()
		if limit := m.config.MaxRestartAttempts; limit > 0 && m.restarts >= limit {
			m.mu.Unlock()
			m.log().Error("giving up on process", "name", m.config.Name, "restarts", limit)
			return nil
		}
		m.restarts++
		attempt := m.restarts
		m.status = StatusRestarting
		m.mu.Unlock()

		m.log().Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", m.config.RestartDelay)
		select {
		case <-ctx.Done():
			m.setStatus(StatusFailed)
			return nil
		case <-stop:
			m.setStatus(StatusStopped)
			return nil
		case <-time.After(m.config.RestartDelay):
		}

		m.mu.Lock()
		if m.stopping {
			m.status = StatusStopped
			m.mu.Unlock()
			return nil
		}
		c, err := m.spawnLocked()
		if err == nil {
			m.mu.Unlock()
			return c
		}
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		m.log().Error("restart failed", "name", m.config.Name, "error", err)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop ends supervision. A running child gets SIGTERM on its process
// group, then SIGKILL after GracefulTimeout. Stop returns once the
// supervisor goroutine has finished.
func (m *Manager) Stop() error {
	m.mu.Lock()
	done := m.done
	if done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopping {
		m.stopping = true
		close(m.stop)
	}
	pid := 0
	if m.status == StatusRunning {
		pid = m.pid
	}
	m.mu.Unlock()

	if pid == 0 {
		<-done
		return nil
	}

	m.log().Info("stopping process", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.log().Warn("SIGTERM failed", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	m.log().Warn("process ignored SIGTERM, killing", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends. It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsRunning reports whether a child is up.
func (m *Manager) IsRunning() bool { return m.Status() == StatusRunning }

// LastError returns why the child last exited, or why a restart failed.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// RestartCount returns the restarts attempted since Start.
func (m *Manager) RestartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// PID returns the most recent child's pid, or 0 if none was spawned.
func (m *Manager) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid
}

// Stats describes one child.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot for status displays.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Name: m.config.Name, Status: m.status, PID: m.pid, RestartCount: m.restarts}
	if m.status == StatusRunning {
		st.Uptime = time.Since(m.since)
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}
