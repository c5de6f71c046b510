package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/runlab-dev/runlab/internal/builder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript drops an executable shell script into dir and returns an
// artifact pointing at it, standing in for a compiled program.
func writeScript(t *testing.T, body string) *builder.Artifact {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "prog")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	return &builder.Artifact{
		SessionID:  "test-session",
		Dir:        dir,
		BinaryPath: path,
	}
}

func collectLines(t *testing.T, c *Child, timeout time.Duration) []Line {
	t.Helper()

	var lines []Line
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-c.Lines():
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-deadline:
			t.Fatalf("timed out collecting output, got %d lines so far", len(lines))
		}
	}
}

func TestStartAndStreamOutput(t *testing.T) {
	artifact := writeScript(t, `echo "line one"
echo "line two"
echo "oops" >&2`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	lines := collectLines(t, child, 5*time.Second)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}

	var stdout, stderr []string
	for _, l := range lines {
		switch l.Stream {
		case StreamStdout:
			stdout = append(stdout, l.Text)
		case StreamStderr:
			stderr = append(stderr, l.Text)
		}
	}

	if len(stdout) != 2 || stdout[0] != "line one" || stdout[1] != "line two" {
		t.Errorf("unexpected stdout lines: %v", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "oops" {
		t.Errorf("unexpected stderr lines: %v", stderr)
	}

	<-child.Exited()
	if err := child.ExitErr(); err != nil {
		t.Errorf("expected clean exit, got %v", err)
	}
	if child.Alive() {
		t.Error("child should not be alive after exit")
	}
}

func TestWriteLineRoundTrip(t *testing.T) {
	artifact := writeScript(t, `read x
echo "got $x"`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	if !child.Alive() {
		t.Fatal("child should be alive while blocked on read")
	}

	if err := child.WriteLine("hello"); err != nil {
		t.Fatalf("failed to write to stdin: %v", err)
	}

	lines := collectLines(t, child, 5*time.Second)
	if len(lines) != 1 || lines[0].Text != "got hello" {
		t.Errorf("unexpected echo lines: %v", lines)
	}
}

func TestWriteLineAfterExit(t *testing.T) {
	artifact := writeScript(t, `exit 0`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	<-child.Exited()

	if err := child.WriteLine("too late"); !errors.Is(err, ErrProcessNotRunning) {
		t.Errorf("expected ErrProcessNotRunning, got %v", err)
	}
}

func TestExitErrOnNonZeroExit(t *testing.T) {
	artifact := writeScript(t, `exit 3`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	<-child.Exited()
	if child.ExitErr() == nil {
		t.Error("expected exit error for non-zero exit code")
	}
}

func TestTerminateGraceful(t *testing.T) {
	artifact := writeScript(t, `sleep 30`)

	s := New(5*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	start := time.Now()
	child.Terminate()
	elapsed := time.Since(start)

	if elapsed > 3*time.Second {
		t.Errorf("graceful terminate took too long: %v", elapsed)
	}
	if child.Alive() {
		t.Error("child should be dead after Terminate")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	// The child ignores SIGTERM, forcing the kill path.
	artifact := writeScript(t, `trap '' TERM
while true; do sleep 1; done`)

	s := New(500*time.Millisecond, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	// Give the script a moment to install its trap.
	time.Sleep(200 * time.Millisecond)

	child.Terminate()
	if child.Alive() {
		t.Error("child should be dead after forced kill")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	artifact := writeScript(t, `sleep 30`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	child.Terminate()
	child.Terminate() // must not panic or hang
}

func TestTerminateKillsProcessGroup(t *testing.T) {
	// The program forks a background helper; terminating the session must
	// take the whole process tree down, not just the direct child.
	artifact := writeScript(t, `sleep 30 &
echo "helper $!"
sleep 30`)

	s := New(2*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	var helperPid int
	select {
	case line := <-child.Lines():
		if _, err := fmt.Sscanf(line.Text, "helper %d", &helperPid); err != nil {
			t.Fatalf("unexpected first line %q: %v", line.Text, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for helper pid")
	}

	start := time.Now()
	child.Terminate()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("terminate took too long: %v", elapsed)
	}

	// The orphan is reparented and reaped by init once the group signal
	// lands; poll until the pid is gone.
	deadline := time.Now().Add(5 * time.Second)
	for syscall.Kill(helperPid, 0) == nil {
		if time.Now().After(deadline) {
			t.Fatalf("helper process %d survived group termination", helperPid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestExitNotBlockedByOrphanedPipes(t *testing.T) {
	// The child exits immediately but leaves a grandchild holding the
	// output pipes; Exited must still close within the grace period.
	artifact := writeScript(t, `sleep 30 &
echo started`)

	s := New(1*time.Second, testLogger())
	child, err := s.Start(context.Background(), artifact)
	if err != nil {
		t.Fatalf("failed to start child: %v", err)
	}

	go func() {
		for range child.Lines() {
		}
	}()

	select {
	case <-child.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("exit blocked behind a pipe held by an orphaned grandchild")
	}
	if err := child.ExitErr(); err != nil {
		t.Errorf("expected clean exit, got %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	artifact := &builder.Artifact{
		SessionID:  "test-session",
		Dir:        t.TempDir(),
		BinaryPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}

	s := New(2*time.Second, testLogger())
	_, err := s.Start(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected launch error")
	}

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Errorf("expected LaunchError, got %T", err)
	}
}
