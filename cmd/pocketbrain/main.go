package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/pocketbrain/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	settingsViper *viper.Viper
	settings      *config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "pocketbrain",
	Short:         "pocketbrain is an on-device assistant keeping everything in one encrypted brain file",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()

		s, err := config.Load(settingsViper)
		if err != nil {
			return err
		}
		settings = s
		return nil
	},
}

func initLogger() {
	logLevel := settingsViper.GetString("log-level")
	verbose := settingsViper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    settingsViper.GetString("log-file"),
		LogFormat:  settingsViper.GetString("log-format"),
		WithCaller: settingsViper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func InitLogger(cfg *logConfig) error {
	if cfg.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	// the console writer is only used on a terminal, json otherwise
	var logWriter io.Writer = os.Stderr
	if cfg.LogFormat == "text" && isatty.IsTerminal(os.Stderr.Fd()) {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   cfg.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
					Compress:   false,
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	v, err := config.NewViper(configPath)
	if err != nil {
		return err
	}
	settingsViper = v

	// Bind the variables to the command-line flags
	if err := settingsViper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}
	if err := config.BindFlags(settingsViper, rootCmd.PersistentFlags()); err != nil {
		return err
	}

	// this still won't pick up on --verbose to show debug logging when the commands
	// are parsed, but at least it will configure it based on the config file
	initLogger()

	log.Debug().
		Str("config", settingsViper.ConfigFileUsed()).
		Msg("Loaded configuration")

	rootCmd.AddCommand(
		newChatCommand(),
		newChatsCommand(),
		newLogsCommand(),
		newMemoryCommand(),
		newTreeCommand(),
		newToolsCommand(),
	)
	return nil
}

func main() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")
	rootCmd.PersistentFlags().Bool("yes", false, "Answer yes to every confirmation")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./config.yaml or ~/.pocketbrain/config.yaml)")
	config.AddFlags(rootCmd.PersistentFlags())

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	if err := initCommands(rootCmd, configFile); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
