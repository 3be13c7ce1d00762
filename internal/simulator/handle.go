package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
)

// State is the lifecycle stage of a simulator run
type State int

const (
	StateCreated   State = iota // Deck staged in the scratch directory
	StateLaunched               // Process spawned
	StateRunning                // Output drained and supervision active
	StateCompleted              // Exit 0 with a non-empty raw file
	StateFailed                 // Non-zero exit or missing output
	StateTimedOut               // Stopped after the timeout elapsed
	StateKilled                 // Stopped by Cancel or the context
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunched:
		return "launched"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed out"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the run has finished
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Handle owns one simulator process and its scratch directory
type Handle struct {
	id      string
	opts    Options
	fs      afero.Fs
	logger  *slog.Logger
	workDir string
	deck    string
	raw     string

	cmd    *exec.Cmd
	stdout *capture
	stderr *capture

	mu    sync.Mutex
	state State
	err   error
	start time.Time
	end   time.Time

	wg         conc.WaitGroup
	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

func (h *Handle) ID() string { return h.id }

// WorkDir is the scratch directory the simulator runs in
func (h *Handle) WorkDir() string { return h.workDir }

// DeckPath is the staged copy of the deck
func (h *Handle) DeckPath() string { return h.deck }

func (h *Handle) RawPath() string { return h.raw }

// PID returns the simulator process id, or 0 before launch
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the terminal error, nil while running or after completion
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Elapsed returns the wall time between launch and exit, or until now
func (h *Handle) Elapsed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.start.IsZero() {
		return 0
	}
	if h.end.IsZero() {
		return time.Since(h.start)
	}
	return h.end.Sub(h.start)
}

func (h *Handle) Stdout() string { return h.stdout.String() }
func (h *Handle) Stderr() string { return h.stderr.String() }

// Done is closed once the process has been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run reaches a terminal state and returns its error
func (h *Handle) Wait() error {
	<-h.done
	return h.Err()
}

// Cancel stops the run and returns once the process group has been
// reaped and its pipes closed. It is safe from any goroutine and a no-op
// after the run finished.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
	<-h.done
}

// Close cancels a live run and removes the scratch directory unless
// KeepWorkDir is set. It is idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.done != nil {
			h.Cancel()
		}
		if h.opts.KeepWorkDir || h.workDir == "" {
			return
		}
		if err := h.fs.RemoveAll(h.workDir); err != nil {
			h.closeErr = fmt.Errorf("failed to remove work directory: %w", err)
		}
	})
	return h.closeErr
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// launch starts the process and its supervisor. Start errors leave the
// handle in StateCreated.
func (h *Handle) launch(ctx context.Context, exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Dir = h.workDir
	cmd.Env = append(cmd.Environ(), h.opts.Env...)
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	// Wait stops waiting for helpers that inherited the pipes after this long
	cmd.WaitDelay = h.opts.GracePeriod
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	h.cmd = cmd
	h.done = make(chan struct{})
	h.mu.Lock()
	h.state = StateLaunched
	h.start = time.Now()
	h.mu.Unlock()
	h.logger.Info("simulator started", "run", h.id, "pid", cmd.Process.Pid, "executable", exe, "args", args)

	h.setState(StateRunning)
	exited := make(chan error, 1)
	h.wg.Go(func() {
		exited <- cmd.Wait()
	})
	h.wg.Go(func() {
		h.supervise(ctx, exited)
	})
	go func() {
		if r := h.wg.WaitAndRecover(); r != nil {
			h.finish(StateFailed, fmt.Errorf("simulator supervision panicked: %v", r.Value))
		}
		close(h.done)
	}()
	return nil
}

// supervise waits for exit while enforcing the timeout and cancellation
func (h *Handle) supervise(ctx context.Context, exited <-chan error) {
	var timeout <-chan time.Time
	if h.opts.Timeout > 0 {
		t := time.NewTimer(h.opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var (
		stopped State
		waitErr error
	)
	select {
	case waitErr = <-exited:
	case <-timeout:
		h.logger.Warn("simulator timed out", "run", h.id, "timeout", h.opts.Timeout)
		stopped = StateTimedOut
		waitErr = h.stop(exited)
	case <-h.cancel:
		stopped = StateKilled
		waitErr = h.stop(exited)
	case <-ctx.Done():
		stopped = StateKilled
		waitErr = h.stop(exited)
	}

	// children left behind by the simulator go with it
	if err := killGroup(h.cmd); err != nil {
		h.logger.Debug("failed to sweep process group", "run", h.id, "error", err)
	}
	h.settle(stopped, waitErr)
}

// stop sends SIGTERM, escalates to SIGKILL after the grace period and
// returns the result of Wait
func (h *Handle) stop(exited <-chan error) error {
	if err := terminateGroup(h.cmd); err != nil {
		h.logger.Debug("failed to terminate process group", "run", h.id, "error", err)
	}
	grace := time.NewTimer(h.opts.GracePeriod)
	defer grace.Stop()
	select {
	case err := <-exited:
		return err
	case <-grace.C:
	}
	h.logger.Warn("simulator ignored SIGTERM, killing", "run", h.id, "grace", h.opts.GracePeriod)
	if err := killGroup(h.cmd); err != nil {
		h.logger.Debug("failed to kill process group", "run", h.id, "error", err)
	}
	return <-exited
}

func (h *Handle) settle(stopped State, waitErr error) {
	h.stdout.flush()
	h.stderr.flush()
	stderr := h.stderr.trimmed()
	if n := h.stderr.Dropped(); n > 0 {
		h.logger.Debug("simulator stderr truncated", "run", h.id, "dropped", n)
	}

	switch {
	case stopped == StateTimedOut:
		h.finish(stopped, &ExitError{Code: exitCode(waitErr), Stderr: stderr, Err: ErrTimedOut})
	case stopped == StateKilled:
		h.finish(stopped, &ExitError{Code: exitCode(waitErr), Stderr: stderr, Err: ErrKilled})
	case waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay):
		h.finish(StateFailed, &ExitError{Code: exitCode(waitErr), Stderr: stderr})
	default:
		info, err := h.fs.Stat(h.raw)
		if err != nil || info.Size() == 0 {
			h.finish(StateFailed, &ExitError{Code: 0, Stderr: stderr, Err: ErrMissingOutput})
			return
		}
		h.finish(StateCompleted, nil)
	}
}

func (h *Handle) finish(s State, err error) {
	h.mu.Lock()
	h.state = s
	h.err = err
	h.end = time.Now()
	elapsed := h.end.Sub(h.start)
	h.mu.Unlock()

	if err != nil {
		h.logger.Info("simulator finished", "run", h.id, "state", s, "elapsed", elapsed, "error", err)
		return
	}
	h.logger.Info("simulator finished", "run", h.id, "state", s, "elapsed", elapsed)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
