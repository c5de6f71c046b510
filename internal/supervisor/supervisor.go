// Package supervisor owns the lifecycle of one running artifact: start,
// stdin writes, interleaved stdout/stderr line streaming, liveness checks,
// and graceful-then-forced termination.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/runlab-dev/runlab/internal/builder"
)

// ErrProcessNotRunning is returned by read/write operations against a child
// that has already exited. The session treats it as a natural end of the
// program, not a fault.
var ErrProcessNotRunning = errors.New("process not running")

// LaunchError means the OS could not create the child process. Fatal to the
// session.
type LaunchError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying OS error.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Stream identifies which standard stream produced an output line.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one decoded line of child output.
type Line struct {
	Stream Stream
	Text   string
}

// Supervisor launches artifacts and hands back Child handles.
type Supervisor struct {
	gracePeriod time.Duration
	logger      *slog.Logger
}

// New creates a supervisor. gracePeriod bounds how long Terminate waits after
// SIGTERM before escalating to SIGKILL.
func New(gracePeriod time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

// Child wraps a running OS process, its three standard streams, and its
// termination status. Exclusively owned by one session at a time.
type Child struct {
	cmd         *exec.Cmd
	gracePeriod time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	stdin      io.WriteCloser
	terminated bool
	exitErr    error

	lines  chan Line
	exited chan struct{}
}

// Start launches the artifact with its three streams redirected for
// programmatic access and begins streaming its output.
func (s *Supervisor) Start(ctx context.Context, artifact *builder.Artifact) (*Child, error) {
	proc := exec.CommandContext(ctx, artifact.BinaryPath)
	proc.Dir = artifact.Dir
	// Own process group, so termination reaches any grandchildren the
	// program forks (a shell wrapper's sleep, a background helper).
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Path: artifact.BinaryPath, Err: err}
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &LaunchError{Path: artifact.BinaryPath, Err: err}
	}

	stderr, err := proc.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &LaunchError{Path: artifact.BinaryPath, Err: err}
	}

	if err := proc.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &LaunchError{Path: artifact.BinaryPath, Err: err}
	}

	s.logger.Info("child started",
		"session_id", artifact.SessionID,
		"path", artifact.BinaryPath,
		"pid", proc.Process.Pid)

	c := &Child{
		cmd:         proc,
		gracePeriod: s.gracePeriod,
		logger:      s.logger,
		stdin:       stdin,
		lines:       make(chan Line, 64),
		exited:      make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go c.readStream(&readers, StreamStdout, stdout)
	go c.readStream(&readers, StreamStderr, stderr)
	go c.waitForExit(&readers, stdout, stderr)

	return c, nil
}

// Lines returns the channel of output lines, interleaved from stdout and
// stderr in arrival order. The channel is closed once the child has exited
// and both streams are drained. The caller applies its own read timeout by
// selecting against this channel; silence suspends the caller, never the
// child.
func (c *Child) Lines() <-chan Line {
	return c.lines
}

// WriteLine appends a newline to text and writes it to the child's stdin.
// Returns ErrProcessNotRunning if the child has already exited.
func (c *Child) WriteLine(text string) error {
	if !c.Alive() {
		return ErrProcessNotRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.stdin, text+"\n"); err != nil {
		// A write racing the child's exit surfaces as a broken pipe;
		// fold it into the one condition the session knows how to handle.
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to write to child stdin: %w", err)
	}
	return nil
}

// Alive reports whether the child is still running, without waiting.
func (c *Child) Alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the child has exited and its output is drained.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// ExitErr returns the child's exit error (nil for exit code zero). Only
// meaningful after Exited is closed.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// Terminate sends SIGTERM and, if the child has not exited within the grace
// period, escalates to SIGKILL. It always waits for the process to be reaped
// before returning. Idempotent - terminating an exited child is a no-op.
func (c *Child) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		<-c.exited
		return
	}
	c.terminated = true
	c.mu.Unlock()

	if !c.Alive() {
		return
	}

	pid := c.cmd.Process.Pid
	c.logger.Info("terminating child", "pid", pid)

	// Signal the whole process group, not just the direct child; a shell
	// wrapper's grandchildren must die with it.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Signal fails only if the group is already gone.
		<-c.exited
		return
	}

	select {
	case <-c.exited:
	case <-time.After(c.gracePeriod):
		c.logger.Warn("child ignored SIGTERM, killing", "pid", pid)
		syscall.Kill(-pid, syscall.SIGKILL)
		<-c.exited
	}
}

func (c *Child) readStream(readers *sync.WaitGroup, stream Stream, r io.Reader) {
	defer readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024) // 1MB max line length

	for scanner.Scan() {
		c.lines <- Line{Stream: stream, Text: scanner.Text()}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		c.logger.Debug("stream read ended", "stream", stream, "error", err)
	}
}

// waitForExit reaps the child as soon as it dies, independent of its pipes.
// An orphaned grandchild can hold the pipe write ends open past the child's
// death; exit must not wait on pipe EOF or the session would hang on it.
func (c *Child) waitForExit(readers *sync.WaitGroup, stdout, stderr io.Closer) {
	state, waitErr := c.cmd.Process.Wait()

	err := waitErr
	if err == nil && !state.Success() {
		err = &exec.ExitError{ProcessState: state}
	}

	// Let the readers drain what the child wrote before it died, bounded by
	// the grace period; then force EOF on whatever an orphan still holds.
	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(c.gracePeriod):
		c.logger.Warn("output pipes held open past child exit, closing", "pid", c.cmd.Process.Pid)
		stdout.Close()
		stderr.Close()
		<-drained
	}

	c.mu.Lock()
	c.exitErr = err
	c.stdin.Close()
	c.mu.Unlock()

	close(c.exited)
	close(c.lines)

	if err != nil {
		c.logger.Info("child exited", "error", err)
	} else {
		c.logger.Info("child exited cleanly")
	}
}
