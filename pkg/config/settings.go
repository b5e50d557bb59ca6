// Package config loads pocketbrain settings from flags, environment
// variables (prefix POCKETBRAIN) and an optional config.yaml.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "POCKETBRAIN"

type BrainSettings struct {
	File       string `mapstructure:"file" yaml:"file"`
	KeyAlias   string `mapstructure:"key_alias" yaml:"key_alias"`
	Keystore   string `mapstructure:"keystore" yaml:"keystore"`
	Passphrase string `mapstructure:"passphrase" yaml:"-"`
}

type StoreSettings struct {
	CorruptPolicy string `mapstructure:"corrupt_policy" yaml:"corrupt_policy"`
}

type EngineSettings struct {
	Kind    string `mapstructure:"kind" yaml:"kind"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
}

type GenerationSettings struct {
	BatchInterval    time.Duration `mapstructure:"batch_interval" yaml:"batch_interval"`
	MaxHistoryTokens int           `mapstructure:"max_history_tokens" yaml:"max_history_tokens"`
	Tokenizer        string        `mapstructure:"tokenizer" yaml:"tokenizer"`
}

type ToolSettings struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	Allow      []string `mapstructure:"allow" yaml:"allow"`
	StrictArgs bool     `mapstructure:"strict_args" yaml:"strict_args"`
}

type LogSettings struct {
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
}

type Settings struct {
	Brain      BrainSettings      `mapstructure:"brain" yaml:"brain"`
	Store      StoreSettings      `mapstructure:"store" yaml:"store"`
	Engine     EngineSettings     `mapstructure:"engine" yaml:"engine"`
	Generation GenerationSettings `mapstructure:"generation" yaml:"generation"`
	Tools      ToolSettings       `mapstructure:"tools" yaml:"tools"`
	Logs       LogSettings        `mapstructure:"logs" yaml:"logs"`
}

type flagSpec struct {
	key   string
	value interface{}
	usage string
}

// flagSpecs lists every setting with its default. The flag name is the key
// with dots and underscores turned into dashes.
var flagSpecs = []flagSpec{
	{"brain.file", defaultBrainFile(), "Path to the encrypted brain file"},
	{"brain.key_alias", "brain", "Alias of the brain encryption key"},
	{"brain.keystore", securecodec.KeyStoreKeyring, "Key store (keyring, passphrase, memory)"},
	{"brain.passphrase", "", "Passphrase for the passphrase key store"},
	{"store.corrupt_policy", string(store.CorruptFail), "What to do with a corrupt brain file (fail, backup-and-reset)"},
	{"engine.kind", "scripted", "Model engine (scripted, ollama, openai)"},
	{"engine.model", "", "Model name"},
	{"engine.base_url", "", "Engine base URL"},
	{"engine.api_key", "", "Engine API key"},
	{"generation.batch_interval", 300 * time.Millisecond, "Interval between streaming UI updates"},
	{"generation.max_history_tokens", 2048, "Token budget for conversation history in prompts (0 disables trimming)"},
	{"generation.tokenizer", "cl100k_base", "Tokenizer used for the history budget"},
	{"tools.enabled", true, "Offer tools to the model"},
	{"tools.allow", []string{}, "Glob patterns of allowed tools (empty allows all)"},
	{"tools.strict_args", false, "Validate tool arguments against their schema"},
	{"logs.max_sessions", 20, "System log sessions to keep in the brain file"},
}

func defaultBrainFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "brain.bin"
	}
	return filepath.Join(home, ".pocketbrain", "brain.bin")
}

// FlagName returns the command line flag bound to key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// AddFlags registers one flag per setting on fs.
func AddFlags(fs *pflag.FlagSet) {
	for _, spec := range flagSpecs {
		name := FlagName(spec.key)
		switch v := spec.value.(type) {
		case string:
			fs.String(name, v, spec.usage)
		case bool:
			fs.Bool(name, v, spec.usage)
		case int:
			fs.Int(name, v, spec.usage)
		case time.Duration:
			fs.Duration(name, v, spec.usage)
		case []string:
			fs.StringSlice(name, v, spec.usage)
		}
	}
}

// NewViper sets up defaults, environment lookup and the config file. An
// explicit configPath must exist; otherwise config.yaml is searched in ".",
// $HOME/.pocketbrain and the user config dir, and may be absent.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	for _, spec := range flagSpecs {
		v.SetDefault(spec.key, spec.value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pocketbrain")
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, "pocketbrain"))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, defaults and environment only
	} else if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	return v, nil
}

// BindFlags binds the flags registered by AddFlags, so that a flag set on
// the command line wins over environment and config file.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, spec := range flagSpecs {
		f := fs.Lookup(FlagName(spec.key))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(spec.key, f); err != nil {
			return errors.Wrapf(err, "could not bind flag %s", f.Name)
		}
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Brain.File) == "" {
		return errors.New("brain.file must not be empty")
	}
	if _, err := store.ParseCorruptPolicy(s.Store.CorruptPolicy); err != nil {
		return err
	}
	switch s.Brain.Keystore {
	case "", securecodec.KeyStoreKeyring, securecodec.KeyStoreMemory:
	case securecodec.KeyStorePassphrase:
		if s.Brain.Passphrase == "" {
			return errors.New("brain.passphrase is required with the passphrase key store")
		}
	default:
		return errors.Errorf("unknown key store %q", s.Brain.Keystore)
	}
	if s.Generation.BatchInterval <= 0 {
		return errors.Errorf("generation.batch_interval must be positive, got %s", s.Generation.BatchInterval)
	}
	if s.Logs.MaxSessions < 0 {
		return errors.New("logs.max_sessions must not be negative")
	}
	return nil
}

// KeyStoreOptions returns the key store options. The passphrase salt lives
// next to the brain file.
func (s *Settings) KeyStoreOptions() securecodec.Options {
	return securecodec.Options{
		Service:    securecodec.DefaultService,
		Passphrase: s.Brain.Passphrase,
		SaltFile:   s.Brain.File + ".salt",
		Iterations: securecodec.DefaultIterations,
	}
}

func (s *Settings) ToolConfig() tools.ToolConfig {
	return tools.DefaultToolConfig().
		WithEnabled(s.Tools.Enabled).
		WithAllowedTools(s.Tools.Allow).
		WithStrictArgs(s.Tools.StrictArgs)
}
