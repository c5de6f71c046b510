// Package builder turns submitted source text into a runnable artifact.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/runlab-dev/runlab/internal/config"
	"github.com/runlab-dev/runlab/internal/workspace"
)

// Artifact is the compiled executable plus the session-scoped files that
// produced it. It is handed to the supervisor for execution and must be
// removed when the session ends.
type Artifact struct {
	SessionID  string
	Dir        string
	SourcePath string
	BinaryPath string

	workRoot string
}

// Remove deletes the artifact's files from disk. Idempotent.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	return workspace.RemoveSession(a.workRoot, a.SessionID)
}

// BuildError carries the compiler's diagnostics verbatim. It is surfaced to
// the user without interpretation.
type BuildError struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("compilation failed with exit code %d", e.ExitCode)
}

// Diagnostics formats the compiler output for the user: stderr always,
// stdout appended when the compiler produced any.
func (e *BuildError) Diagnostics() string {
	msg := "Compilation Error:\nSTDERR:\n" + e.Stderr
	if e.Stdout != "" {
		msg += "\nSTDOUT:\n" + e.Stdout
	}
	return msg
}

// Builder compiles source text inside session-scoped directories.
type Builder struct {
	workRoot string
	cfg      config.CompilerConfig
	logger   *slog.Logger
}

// New creates a builder rooted at workRoot.
func New(workRoot string, cfg config.CompilerConfig, logger *slog.Logger) *Builder {
	return &Builder{
		workRoot: workRoot,
		cfg:      cfg,
		logger:   logger,
	}
}

// Build writes the source into the session's directory, runs the configured
// compiler synchronously, and returns the artifact on exit code zero. On a
// non-zero exit it returns a *BuildError carrying the compiler's output
// verbatim. The source file (and binary, on success) stay on disk until
// Artifact.Remove is called.
func (b *Builder) Build(ctx context.Context, sessionID, source string) (*Artifact, error) {
	dir, err := workspace.CreateSession(b.workRoot, sessionID)
	if err != nil {
		return nil, err
	}

	// Nothing survives a failed build; the session dir only outlives Build
	// when there is an artifact whose Remove will reclaim it.
	built := false
	defer func() {
		if !built {
			if rmErr := workspace.RemoveSession(b.workRoot, sessionID); rmErr != nil {
				b.logger.Error("session cleanup failed", "session_id", sessionID, "error", rmErr)
			}
		}
	}()

	if b.cfg.ReflowSingleLine {
		source = Reflow(source)
	}

	sourcePath := filepath.Join(dir, b.cfg.SourceFile)
	binaryPath := filepath.Join(dir, b.cfg.BinaryFile)

	if err := os.WriteFile(sourcePath, []byte(source), 0600); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	argv, err := buildArgv(b.cfg.Command, sourcePath, binaryPath)
	if err != nil {
		return nil, err
	}

	b.logger.Info("compiling", "session_id", sessionID, "argv", argv)

	compileCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout())
	defer cancel()

	cmd := exec.CommandContext(compileCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			b.logger.Info("compilation failed",
				"session_id", sessionID,
				"exit_code", exitErr.ExitCode(),
				"stderr_bytes", stderr.Len())
			return nil, &BuildError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Stdout:   stdout.String(),
			}
		}
		return nil, fmt.Errorf("failed to run compiler: %w", err)
	}

	b.logger.Info("compilation succeeded", "session_id", sessionID, "binary", binaryPath)

	built = true
	return &Artifact{
		SessionID:  sessionID,
		Dir:        dir,
		SourcePath: sourcePath,
		BinaryPath: binaryPath,
		workRoot:   b.workRoot,
	}, nil
}

// buildArgv splits the command template and substitutes the {source} and
// {output} placeholders. Splitting happens before substitution so paths with
// spaces cannot inject extra arguments.
func buildArgv(template, sourcePath, binaryPath string) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compiler command %q: %w", template, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("compiler command is empty")
	}

	argv := make([]string, len(parts))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "{source}", sourcePath)
		part = strings.ReplaceAll(part, "{output}", binaryPath)
		argv[i] = part
	}
	return argv, nil
}
