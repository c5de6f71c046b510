package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefault(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, ":8375", cfg.ListenAddr)
	assert.Equal(t, ".", cfg.WorkRoot)

	assert.Equal(t, "gcc {source} -o {output}", cfg.Compiler.Command)
	assert.Equal(t, "main.c", cfg.Compiler.SourceFile)
	assert.Equal(t, "prog", cfg.Compiler.BinaryFile)
	assert.Equal(t, 30, cfg.Compiler.TimeoutS)
	assert.True(t, cfg.Compiler.ReflowSingleLine)

	assert.Equal(t, 5, cfg.Session.SilenceTimeoutS)
	assert.Equal(t, 5, cfg.Session.GracePeriodS)
	assert.Equal(t, 0, cfg.Session.MaxSessionDurationS)

	assert.Equal(t, []string{": ", ":"}, cfg.Prompt.Suffixes)
	assert.Equal(t, []string{"enter", "input"}, cfg.Prompt.Markers)

	assert.Equal(t, "report.html", cfg.Report.DocumentName)
	assert.Empty(t, cfg.Report.RendererCommand)

	require.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, 30*time.Second, cfg.Compiler.Timeout())
	assert.Equal(t, 5*time.Second, cfg.Session.SilenceTimeout())
	assert.Equal(t, 5*time.Second, cfg.Session.GracePeriod())
	assert.Equal(t, time.Duration(0), cfg.Session.MaxSessionDuration())
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version"},
		{"missing compiler command", func(c *Config) { c.Compiler.Command = "" }, "compiler.command"},
		{"missing source file", func(c *Config) { c.Compiler.SourceFile = "" }, "source_file"},
		{"zero compile timeout", func(c *Config) { c.Compiler.TimeoutS = 0 }, "timeout_s"},
		{"zero silence timeout", func(c *Config) { c.Session.SilenceTimeoutS = 0 }, "silence_timeout_s"},
		{"zero grace period", func(c *Config) { c.Session.GracePeriodS = 0 }, "grace_period_s"},
		{"negative session cap", func(c *Config) { c.Session.MaxSessionDurationS = -1 }, "max_session_duration_s"},
		{"no prompt rules", func(c *Config) { c.Prompt = PromptConfig{} }, "prompt"},
		{"missing document name", func(c *Config) { c.Report.DocumentName = "" }, "document_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GenerateDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlab.json")

	cfg := GenerateDefault()
	cfg.ListenAddr = ":9999"
	cfg.Compiler.Command = "clang {source} -o {output}"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}
