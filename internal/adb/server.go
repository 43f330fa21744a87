package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ServerStatus is the lifecycle state of a supervised adb server.
type ServerStatus string

const (
	ServerStopped  ServerStatus = "stopped"
	ServerStarting ServerStatus = "starting"
	ServerRunning  ServerStatus = "running"
	ServerFailed   ServerStatus = "failed"
)

// ServerConfig controls restart and health behaviour of a Server.
type ServerConfig struct {
	// Binary is the adb executable.
	Binary string

	// Args default to "-a nodaemon server".
	Args []string

	// RestartDelay is the first backoff; it doubles up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts limits consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, when set, runs every HealthInterval. Three consecutive
	// failures kill the child so it is restarted.
	HealthCheck    func(ctx context.Context) error
	HealthInterval time.Duration
}

const (
	outputBufferSize       = 4096
	maxConsecutiveFailures = 3
	healthCheckTimeout     = 5 * time.Second
)

// ServerLogger is the logging interface used by Server.
type ServerLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopServerLogger struct{}

func (noopServerLogger) Debug(string, ...any) {}
func (noopServerLogger) Info(string, ...any)  {}
func (noopServerLogger) Warn(string, ...any)  {}
func (noopServerLogger) Error(string, ...any) {}

// Server supervises a foreground adb server process.
type Server struct {
	cfg    ServerConfig
	logger ServerLogger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        ServerStatus
	restarts      int
	lastErr       error
	startedAt     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewServer applies defaults to cfg and returns a stopped server.
func NewServer(cfg ServerConfig, logger ServerLogger) *Server {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	if cfg.Args == nil {
		cfg.Args = []string{"-a", "nodaemon", "server"}
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if logger == nil {
		logger = noopServerLogger{}
	}
	return &Server{cfg: cfg, logger: logger, status: ServerStopped}
}

// Start launches the child and a monitor goroutine that restarts it.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == ServerRunning || s.status == ServerStarting {
		s.mu.Unlock()
		return errors.New("adb server already running")
	}
	s.status = ServerStarting
	s.stopRequested = false
	s.restarts = 0
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.status = ServerFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.monitor(ctx)
	return nil
}

func (s *Server) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrADBNotFound, s.cfg.Binary)
		}
		return fmt.Errorf("starting adb server: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = ServerRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.drain("stdout", stdout)
	go s.drain("stderr", stderr)

	s.logger.Info("adb server started", "pid", cmd.Process.Pid, "args", s.cfg.Args)
	return nil
}

func (s *Server) drain(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.logger.Debug("adb server output", "stream", stream, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// wait blocks until the child exits, ctx ends, or health checks fail
// maxConsecutiveFailures times in a row.
func (s *Server) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	if s.cfg.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.cfg.HealthCheck(checkCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			s.logger.Warn("adb server health check failed", "error", err, "consecutive_failures", failures)
			if failures >= maxConsecutiveFailures {
				_ = cmd.Process.Kill()
				<-exitCh
				return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
			}
		}
	}
}

func (s *Server) monitor(ctx context.Context) {
	defer close(s.done)

	delay := s.cfg.RestartDelay
	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		if s.stopRequested || ctx.Err() != nil {
			s.status = ServerStopped
			s.mu.Unlock()
			s.logger.Info("adb server stopped")
			return
		}
		s.status = ServerFailed
		s.lastErr = err
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		s.logger.Warn("adb server exited unexpectedly", "error", err, "attempt", attempt)
		if s.cfg.MaxRestarts > 0 && attempt > s.cfg.MaxRestarts {
			s.logger.Error("adb server restart limit reached", "attempts", attempt)
			return
		}

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.status = ServerStopped
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		if err := s.spawn(ctx); err != nil {
			s.logger.Error("adb server restart failed", "error", err)
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			return
		}
	}
}

// Stop sends SIGTERM to the child's process group, escalating to SIGKILL
// after GracefulTimeout.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.status != ServerRunning && s.status != ServerStarting {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to signal adb server", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("adb server ignored SIGTERM, killing", "pid", pid)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing adb server: %w", err)
	}
	<-done
	return nil
}

// Status returns the current lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Restarts returns how many times the child has been restarted.
func (s *Server) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// LastError returns the error that ended the previous child, if any.
func (s *Server) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Uptime returns how long the current child has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != ServerRunning {
		return 0
	}
	return time.Since(s.startedAt)
}
