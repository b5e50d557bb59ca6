package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	v, err := NewViper("")
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "fail", s.Store.CorruptPolicy)
	assert.Equal(t, "scripted", s.Engine.Kind)
	assert.Equal(t, 300*time.Millisecond, s.Generation.BatchInterval)
	assert.True(t, s.Tools.Enabled)
	assert.Equal(t, 20, s.Logs.MaxSessions)
	assert.Equal(t, "brain.bin", filepath.Base(s.Brain.File))
}

func TestConfigFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
brain:
  file: /tmp/other.bin
engine:
  kind: ollama
  model: llama3
generation:
  batch_interval: 50ms
tools:
  allow: ["memory.*"]
`), 0o600))

	t.Setenv("POCKETBRAIN_ENGINE_MODEL", "qwen")
	t.Setenv("POCKETBRAIN_LOGS_MAX_SESSIONS", "3")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--store-corrupt-policy", "backup-and-reset"}))

	v, err := NewViper(path)
	require.NoError(t, err)
	require.NoError(t, BindFlags(v, fs))
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.bin", s.Brain.File)
	assert.Equal(t, "ollama", s.Engine.Kind)
	assert.Equal(t, "qwen", s.Engine.Model)
	assert.Equal(t, 50*time.Millisecond, s.Generation.BatchInterval)
	assert.Equal(t, []string{"memory.*"}, s.Tools.Allow)
	assert.Equal(t, 3, s.Logs.MaxSessions)
	assert.Equal(t, "backup-and-reset", s.Store.CorruptPolicy)

	tc := s.ToolConfig()
	assert.True(t, tc.IsToolAllowed("memory.recall"))
	assert.False(t, tc.IsToolAllowed("time.now"))
	assert.Equal(t, "/tmp/other.bin.salt", s.KeyStoreOptions().SaltFile)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Settings {
		return &Settings{
			Brain:      BrainSettings{File: "b.bin"},
			Generation: GenerationSettings{BatchInterval: time.Second},
		}
	}

	tests := []struct {
		name   string
		modify func(s *Settings)
		ok     bool
	}{
		{"valid", func(s *Settings) {}, true},
		{"empty file", func(s *Settings) { s.Brain.File = " " }, false},
		{"bad policy", func(s *Settings) { s.Store.CorruptPolicy = "ignore" }, false},
		{"passphrase without secret", func(s *Settings) { s.Brain.Keystore = "passphrase" }, false},
		{"unknown keystore", func(s *Settings) { s.Brain.Keystore = "vault" }, false},
		{"zero interval", func(s *Settings) { s.Generation.BatchInterval = 0 }, false},
		{"negative sessions", func(s *Settings) { s.Logs.MaxSessions = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.modify(s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFlagName(t *testing.T) {
	assert.Equal(t, "generation-max-history-tokens", FlagName("generation.max_history_tokens"))
}
