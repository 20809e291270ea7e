// Package supervisor launches the store and api services as child processes,
// waits for each to become ready before starting the next, and tears the
// fleet down in reverse order. A child that dies is not restarted: the
// supervisor terminates the rest and exits, leaving restart policy to the
// operator or the init system.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"distill/internal/config"
	"distill/internal/fault"
	"distill/internal/logging"
)

// State is the supervisor lifecycle phase.
type State string

const (
	StateStarting   State = "starting"
	StateStoreReady State = "store_ready"
	StateServicesUp State = "services_up"
	StateMonitoring State = "monitoring"
	StateStopping   State = "stopping"
	StateCrashed    State = "crashed"
)

// readinessPollInterval is how often a child's readiness probe is retried.
const readinessPollInterval = 200 * time.Millisecond

// ChildSpec describes one supervised service.
type ChildSpec struct {
	Name    string
	Command string
	Args    []string
	// Ready probes the child's externally visible readiness. It is retried
	// until it succeeds or the startup timeout elapses.
	Ready func(ctx context.Context) error
	// StateAfterReady is the supervisor state entered once this child is
	// ready.
	StateAfterReady State
}

// Supervisor owns the service fleet for one deployment.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
	specs  []ChildSpec

	lockPath string
	lock     *flock.Flock
	pidPath  string

	mu       sync.Mutex
	state    State
	children []*child
}

type child struct {
	spec   ChildSpec
	cmd    *exec.Cmd
	exited chan error
}

// New constructs a supervisor for the given child specs, started in order.
func New(cfg *config.Config, logger *slog.Logger, specs []ChildSpec) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "distill.lock")
	return &Supervisor{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "supervisor"),
		specs:    specs,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		pidPath:  filepath.Join(cfg.Paths.LogDir, "distill.pid"),
	}
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Info("supervisor state",
		logging.String("state", string(state)),
		logging.String(logging.FieldEventType, "supervisor_state"))
}

// Run starts every child in order, then monitors the fleet until the context
// is canceled or a child dies. It blocks for the whole supervisor lifetime.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another distill supervisor holds %s", s.lockPath)
	}
	defer func() {
		_ = s.lock.Unlock()
		_ = os.Remove(s.pidPath)
	}()

	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	s.setState(StateStarting)

	for _, spec := range s.specs {
		c, err := s.startChild(spec)
		if err != nil {
			s.failStartup(err)
			return err
		}
		s.mu.Lock()
		s.children = append(s.children, c)
		s.mu.Unlock()

		if err := s.awaitReady(ctx, c); err != nil {
			s.failStartup(err)
			return err
		}
		if spec.StateAfterReady != "" {
			s.setState(spec.StateAfterReady)
		}
	}

	s.setState(StateMonitoring)
	return s.monitor(ctx)
}

func (s *Supervisor) startChild(spec ChildSpec) (*child, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s stderr: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	s.logger.Info("child started",
		logging.String("child", spec.Name),
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldEventType, "child_started"))

	go s.streamOutput(spec.Name, stdout)
	go s.streamOutput(spec.Name, stderr)

	c := &child{spec: spec, cmd: cmd, exited: make(chan error, 1)}
	go func() {
		c.exited <- cmd.Wait()
	}()
	return c, nil
}

// streamOutput forwards a child's output into the supervisor log, line by
// line, so one journal covers the whole fleet.
func (s *Supervisor) streamOutput(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logger.Info(scanner.Text(), logging.String("child", name))
	}
}

// awaitReady polls the child's readiness probe under the startup timeout. A
// child that exits while being probed fails startup immediately.
func (s *Supervisor) awaitReady(ctx context.Context, c *child) error {
	timeout := time.Duration(s.cfg.Supervisor.StartupTimeout) * time.Second
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		if err := c.spec.Ready(probeCtx); err == nil {
			s.logger.Info("child ready",
				logging.String("child", c.spec.Name),
				logging.String(logging.FieldEventType, "child_ready"))
			return nil
		} else {
			lastErr = err
		}

		select {
		case err := <-c.exited:
			c.exited <- err
			return fault.Wrapf(fault.ErrStartupTimeout, "%s exited during startup: %v", c.spec.Name, err)
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fault.Wrapf(fault.ErrStartupTimeout, "%s not ready after %s: %v", c.spec.Name, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// failStartup tears down anything already launched after a failed start.
func (s *Supervisor) failStartup(cause error) {
	s.setState(StateCrashed)
	s.logger.Error("startup failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "startup_failed"),
		logging.String(logging.FieldErrorHint, "check the configured bind addresses and the child log output"))
	s.shutdown(nil)
}

// monitor waits for shutdown or the first child death. Children are never
// restarted here.
func (s *Supervisor) monitor(ctx context.Context) error {
	agg := make(chan struct {
		index int
		err   error
	}, len(s.children))
	for i, c := range s.children {
		go func(index int, c *child) {
			err := <-c.exited
			// Re-publish so stopChild can still observe the exit.
			c.exited <- err
			agg <- struct {
				index int
				err   error
			}{index, err}
		}(i, c)
	}

	select {
	case <-ctx.Done():
		s.shutdown(nil)
		return nil
	case exit := <-agg:
		dead := s.children[exit.index]
		s.setState(StateCrashed)
		s.logger.Error("child exited unexpectedly",
			logging.String("child", dead.spec.Name),
			logging.Error(exit.err),
			logging.String(logging.FieldEventType, "child_crashed"),
			logging.String(logging.FieldImpact, "all services are being stopped"),
			logging.String(logging.FieldErrorHint, "inspect the child's log output, then start the supervisor again"))
		s.shutdown(dead)
		return fmt.Errorf("child %s exited: %v", dead.spec.Name, exit.err)
	}
}

// shutdown stops children in reverse start order so dependents go down before
// their dependencies. The already-dead child, if any, is skipped.
func (s *Supervisor) shutdown(dead *child) {
	if s.State() != StateCrashed {
		s.setState(StateStopping)
	}
	grace := time.Duration(s.cfg.Supervisor.ShutdownGrace) * time.Second

	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		if c == dead {
			continue
		}
		s.stopChild(c, grace)
	}
}

func (s *Supervisor) stopChild(c *child, grace time.Duration) {
	if c.cmd.Process == nil {
		return
	}
	s.logger.Info("stopping child",
		logging.String("child", c.spec.Name),
		logging.String(logging.FieldEventType, "child_stopping"))

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}
	select {
	case <-c.exited:
		return
	case <-time.After(grace):
	}

	s.logger.Warn("child ignored SIGTERM, killing",
		logging.String("child", c.spec.Name),
		logging.String(logging.FieldEventType, "child_killed"))
	_ = c.cmd.Process.Kill()
	<-c.exited
}
