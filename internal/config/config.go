package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runlab-dev/runlab/internal/fsutil"
)

// Config represents the runlab.json configuration file
type Config struct {
	Version    string         `json:"version"`
	ListenAddr string         `json:"listen_addr"`
	WorkRoot   string         `json:"work_root"`
	Compiler   CompilerConfig `json:"compiler"`
	Session    SessionConfig  `json:"session"`
	Prompt     PromptConfig   `json:"prompt"`
	Report     ReportConfig   `json:"report"`
}

// CompilerConfig describes how submitted source text is turned into an
// executable. Command is an argv template; {source} and {output} are replaced
// with the session-scoped file paths before execution.
type CompilerConfig struct {
	Command          string `json:"command"`
	SourceFile       string `json:"source_file"`
	BinaryFile       string `json:"binary_file"`
	TimeoutS         int    `json:"timeout_s"`
	ReflowSingleLine bool   `json:"reflow_single_line"`
}

// Timeout returns the compile timeout as a duration.
func (c CompilerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// SessionConfig contains the conversational-session policy knobs.
type SessionConfig struct {
	// SilenceTimeoutS bounds how long the output pump waits for a line
	// before treating the silence as an implicit input prompt.
	SilenceTimeoutS int `json:"silence_timeout_s"`
	// GracePeriodS is how long a terminated child gets to exit after
	// SIGTERM before it is killed.
	GracePeriodS int `json:"grace_period_s"`
	// MaxSessionDurationS caps the whole session wall-clock. Zero means
	// unbounded.
	MaxSessionDurationS int `json:"max_session_duration_s"`
}

// SilenceTimeout returns the silence timeout as a duration.
func (s SessionConfig) SilenceTimeout() time.Duration {
	return time.Duration(s.SilenceTimeoutS) * time.Second
}

// GracePeriod returns the termination grace period as a duration.
func (s SessionConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodS) * time.Second
}

// MaxSessionDuration returns the session cap as a duration (zero = none).
func (s SessionConfig) MaxSessionDuration() time.Duration {
	return time.Duration(s.MaxSessionDurationS) * time.Second
}

// PromptConfig configures the prompt-detection heuristic. Detection is
// fallible; see the prompt package for the documented failure modes.
type PromptConfig struct {
	Suffixes []string `json:"suffixes"`
	Markers  []string `json:"markers"`
}

// ReportConfig configures report rendering. When RendererCommand is empty the
// report is delivered as HTML; otherwise the HTML is piped through the given
// argv template (e.g. a wkhtmltopdf wrapper reading stdin, writing stdout).
type ReportConfig struct {
	RendererCommand string `json:"renderer_command,omitempty"`
	DocumentName    string `json:"document_name"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:    "1.0",
		ListenAddr: ":8375",
		WorkRoot:   ".",
		Compiler: CompilerConfig{
			Command:          "gcc {source} -o {output}",
			SourceFile:       "main.c",
			BinaryFile:       "prog",
			TimeoutS:         30,
			ReflowSingleLine: true,
		},
		Session: SessionConfig{
			SilenceTimeoutS: 5,
			GracePeriodS:    5,
		},
		Prompt: PromptConfig{
			Suffixes: []string{": ", ":"},
			Markers:  []string{"enter", "input"},
		},
		Report: ReportConfig{
			DocumentName: "report.html",
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.Compiler.Command == "" {
		return fmt.Errorf("configuration error: missing 'compiler.command'\n\nHint: Specify the compiler argv template:\n  \"compiler\": {\n    \"command\": \"gcc {source} -o {output}\"\n  }")
	}

	if c.Compiler.SourceFile == "" || c.Compiler.BinaryFile == "" {
		return fmt.Errorf("configuration error: 'compiler.source_file' and 'compiler.binary_file' must both be set\n\nHint: Defaults are \"main.c\" and \"prog\"")
	}

	if c.Compiler.TimeoutS <= 0 {
		return fmt.Errorf("configuration error: invalid 'compiler.timeout_s' value: %d\n\nHint: Compilation must be bounded. Use a positive number of seconds, e.g.:\n  \"timeout_s\": 30", c.Compiler.TimeoutS)
	}

	if c.Session.SilenceTimeoutS <= 0 {
		return fmt.Errorf("configuration error: invalid 'session.silence_timeout_s' value: %d\n\nHint: The silence timeout drives blocked-input detection and must be positive, e.g.:\n  \"silence_timeout_s\": 5", c.Session.SilenceTimeoutS)
	}

	if c.Session.GracePeriodS <= 0 {
		return fmt.Errorf("configuration error: invalid 'session.grace_period_s' value: %d\n\nHint: The grace period bounds SIGTERM escalation and must be positive, e.g.:\n  \"grace_period_s\": 5", c.Session.GracePeriodS)
	}

	if c.Session.MaxSessionDurationS < 0 {
		return fmt.Errorf("configuration error: invalid 'session.max_session_duration_s' value: %d\n\nHint: Use 0 for no session cap, or a positive number of seconds", c.Session.MaxSessionDurationS)
	}

	if len(c.Prompt.Suffixes) == 0 && len(c.Prompt.Markers) == 0 {
		return fmt.Errorf("configuration error: prompt detection has no suffixes and no markers\n\nHint: Configure at least one, e.g.:\n  \"prompt\": {\n    \"suffixes\": [\": \"],\n    \"markers\": [\"enter\"]\n  }")
	}

	if c.Report.DocumentName == "" {
		return fmt.Errorf("configuration error: missing 'report.document_name'\n\nHint: Name the delivered report file, e.g.:\n  \"document_name\": \"report.html\"")
	}

	return nil
}

// LoadFromFile loads a configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file atomically
func (c *Config) SaveToFile(path string) error {
	if err := fsutil.AtomicWriteJSON(path, c); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
