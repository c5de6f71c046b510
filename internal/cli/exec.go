package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/runlab-dev/runlab/internal/builder"
	"github.com/runlab-dev/runlab/internal/fsutil"
	"github.com/runlab-dev/runlab/internal/prompt"
	"github.com/runlab-dev/runlab/internal/report"
	"github.com/runlab-dev/runlab/internal/session"
	"github.com/runlab-dev/runlab/internal/supervisor"
	"github.com/runlab-dev/runlab/internal/workspace"
)

var execCmd = &cobra.Command{
	Use:   "exec <source-file>",
	Short: "Compile and run a source file from the console",
	Long: `Compile and run a single source file without the chat server.
The program's output is printed to the console; when it appears to be
waiting for input, type a line and press enter. Type /cancel to abort.
The report document is saved to the current directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

// consoleNotifier adapts the console to the session's outbound contract:
// texts go to stdout, the report document is saved beside the caller.
type consoleNotifier struct {
	out io.Writer
}

func (n *consoleNotifier) SendText(sessionID, text string) error {
	_, err := fmt.Fprintf(n.out, "runlab> %s\n", text)
	return err
}

func (n *consoleNotifier) SendDocument(sessionID, name string, data []byte) error {
	if err := fsutil.AtomicWrite(name, data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(n.out, "runlab> report saved to %s\n", name)
	return err
}

func runExec(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, cfgPath, err := loadOrCreateConfig(configPath, logger)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	workRoot := determineWorkRoot(cfg, cfgPath)
	if err := workspace.Initialize(workRoot); err != nil {
		return fmt.Errorf("failed to initialize work root: %w", err)
	}

	notifier := &consoleNotifier{out: cmd.OutOrStdout()}

	var renderer report.Renderer = report.HTMLRenderer{}
	if cfg.Report.RendererCommand != "" {
		renderer = report.NewCommandRenderer(cfg.Report.RendererCommand, logger)
	}

	deps := session.Deps{
		Builder:            builder.New(workRoot, cfg.Compiler, logger),
		Supervisor:         supervisor.New(cfg.Session.GracePeriod(), logger),
		Detector:           prompt.NewHeuristic(cfg.Prompt.Suffixes, cfg.Prompt.Markers),
		Renderer:           renderer,
		Notifier:           notifier,
		Logger:             logger,
		DocumentName:       cfg.Report.DocumentName,
		SilenceTimeout:     cfg.Session.SilenceTimeout(),
		MaxSessionDuration: cfg.Session.MaxSessionDuration(),
	}

	machine := session.NewMachine(uuid.New().String(), deps, func(string) {})
	machine.Submit(string(source))

	// Feed console lines to the session until it finishes. The reader
	// goroutine is abandoned on completion; it is blocked on stdin and the
	// process is about to exit anyway.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				machine.Cancel()
				<-machine.Done()
				return nil
			}
			if strings.TrimSpace(line) == "/cancel" {
				machine.Cancel()
				continue
			}
			machine.Submit(line)

		case <-machine.Done():
			return nil
		}
	}
}
