package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start on a supervisor that is active.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrNotReady is returned when the service does not pass its readiness
	// check within ReadyTimeout.
	ErrNotReady = errors.New("process: service not ready")
)

const (
	defaultReadyTimeout      = 20 * time.Second
	defaultReadyInterval     = 250 * time.Millisecond
	defaultHealthInterval    = 30 * time.Second
	defaultMaxHealthFailures = 3
	defaultRestartDelay      = time.Second
	defaultMaxRestartDelay   = time.Minute
	defaultStopTimeout       = 10 * time.Second

	healthCheckTimeout = 5 * time.Second
	maxLineBytes       = 4096
)

// Config describes the service to supervise.
type Config struct {
	// Name identifies the service in logs. Defaults to the binary name.
	Name string

	// Command is the binary followed by its arguments.
	Command []string

	// Env is appended to the parent environment.
	Env []string

	WorkDir string

	// Ready reports whether the service answers. It gates Start and is
	// reused as the periodic health check. Nil means running is ready.
	Ready func(ctx context.Context) error

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration

	HealthInterval time.Duration
	// MaxHealthFailures consecutive failed checks restart the service.
	MaxHealthFailures int

	// RestartDelay doubles per restart up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	// MaxRestarts bounds the number of restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
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

// run is one launched instance of the service.
type run struct {
	pid  int
	done chan struct{}
	err  error // valid after done is closed
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Supervisor keeps one instance of a service running.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	state    State
	current  *run
	restarts int
	lastErr  error
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSupervisor validates cfg and applies defaults.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("command is required")
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Command[0])
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = defaultReadyInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = defaultMaxHealthFailures
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(defaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	return &Supervisor{cfg: cfg, logger: noopLogger{}, state: StateStopped}, nil
}

// SetLogger sets the logger for the supervisor and the service output.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the service and returns once it is ready. A service that
// exits or stays unready is killed and Start returns the error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateFailed {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.state = StateStarting
	s.restarts = 0
	s.lastErr = nil
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	r, err := s.launch()
	if err == nil {
		if err = s.waitReady(runCtx, r); err != nil {
			s.terminate(r)
		}
	}
	if err != nil {
		cancel()
		s.setState(StateFailed, nil, err)
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.setState(StateRunning, r, nil)

	go s.supervise(runCtx, r, done)
	return nil
}

// Stop terminates the service and waits for the supervisor to exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// supervise restarts the service until ctx ends or MaxRestarts is exceeded.
func (s *Supervisor) supervise(ctx context.Context, r *run, done chan struct{}) {
	defer close(done)

	for {
		err := s.watch(ctx, r)
		if ctx.Err() != nil {
			s.terminate(r)
			s.setState(StateStopped, nil, nil)
			s.logger.Info("service stopped", "name", s.cfg.Name)
			return
		}
		s.logger.Warn("service exited", "name", s.cfg.Name, "pid", r.pid, "error", err)

		next, ok := s.restart(ctx, err)
		if !ok {
			return
		}
		r = next
	}
}

// restart relaunches the service with backoff. It returns false when ctx
// ended or the restart budget is spent.
func (s *Supervisor) restart(ctx context.Context, cause error) (*run, bool) {
	for {
		attempt := s.recordFailure(cause)
		if s.cfg.MaxRestarts > 0 && attempt > s.cfg.MaxRestarts {
			s.logger.Error("service restart limit reached", "name", s.cfg.Name, "restarts", attempt-1, "error", cause)
			s.setState(StateFailed, nil, cause)
			return nil, false
		}

		delay := s.backoff(attempt)
		s.setState(StateBackoff, nil, cause)
		s.logger.Info("restarting service", "name", s.cfg.Name, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			s.setState(StateStopped, nil, nil)
			return nil, false
		case <-time.After(delay):
		}

		r, err := s.launch()
		if err == nil {
			if err = s.waitReady(ctx, r); err == nil {
				s.setState(StateRunning, r, nil)
				return r, true
			}
			s.terminate(r)
		}
		if ctx.Err() != nil {
			s.setState(StateStopped, nil, nil)
			return nil, false
		}
		cause = err
	}
}

// watch blocks until the service exits, fails its health checks or ctx ends.
func (s *Supervisor) watch(ctx context.Context, r *run) error {
	var tick <-chan time.Time
	if s.cfg.Ready != nil {
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case <-r.done:
			if r.err == nil {
				return errors.New("exited with status 0")
			}
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.cfg.Ready(checkCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					s.logger.Info("service health recovered", "name", s.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			s.logger.Warn("service health check failed", "name", s.cfg.Name, "failures", failures, "error", err)
			if failures >= s.cfg.MaxHealthFailures {
				s.terminate(r)
				return fmt.Errorf("%d consecutive health check failures: %w", failures, err)
			}
		}
	}
}

// waitReady polls Ready until it passes, the service exits or ReadyTimeout
// elapses.
func (s *Supervisor) waitReady(ctx context.Context, r *run) error {
	if s.cfg.Ready == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.ReadyInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = s.cfg.Ready(ctx); lastErr == nil {
			s.logger.Info("service ready", "name", s.cfg.Name, "pid", r.pid)
			return nil
		}
		select {
		case <-r.done:
			return fmt.Errorf("%s exited before ready: %v", s.cfg.Name, r.err) //nolint:errorlint // exit status is informational
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %s: %v", ErrNotReady, s.cfg.Name, s.cfg.ReadyTimeout, lastErr) //nolint:errorlint // sentinel carries the classification
		case <-ticker.C:
		}
	}
}

// launch starts the service in its own process group.
func (s *Supervisor) launch() (*run, error) {
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...) //nolint:gosec // command comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.WorkDir
	cmd.Stdout = &lineLogger{logger: s.logger, name: s.cfg.Name, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: s.logger, name: s.cfg.Name, stream: "stderr"}
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = s.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	r := &run{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()

	s.mu.Lock()
	s.current = r
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("service started", "name", s.cfg.Name, "pid", r.pid, "command", strings.Join(s.cfg.Command, " "))
	return r, nil
}

// terminate signals the process group with SIGTERM, then SIGKILL after
// StopTimeout, and waits for the exit.
func (s *Supervisor) terminate(r *run) {
	if r.exited() {
		return
	}
	if err := syscall.Kill(-r.pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("SIGTERM failed", "name", s.cfg.Name, "pid", r.pid, "error", err)
	}

	select {
	case <-r.done:
		return
	case <-time.After(s.cfg.StopTimeout):
	}

	s.logger.Warn("service ignored SIGTERM, killing", "name", s.cfg.Name, "pid", r.pid, "timeout", s.cfg.StopTimeout)
	if err := syscall.Kill(-r.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("SIGKILL failed", "name", s.cfg.Name, "pid", r.pid, "error", err)
	}
	<-r.done
}

func (s *Supervisor) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.lastErr = err
	return s.restarts
}

// backoff returns RestartDelay doubled per attempt, capped at MaxRestartDelay.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxRestartDelay {
			return s.cfg.MaxRestartDelay
		}
	}
	return delay
}

func (s *Supervisor) setState(state State, r *run, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state != StateRunning {
		s.current = nil
	} else {
		s.current = r
	}
	if err != nil {
		s.lastErr = err
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats describes the supervised service.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the service state.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Restarts: s.restarts}
	if s.current != nil {
		st.PID = s.current.pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// lineLogger logs service output one line at a time.
type lineLogger struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Debug("service output", "name", w.name, "stream", w.stream, "line", text)
}
