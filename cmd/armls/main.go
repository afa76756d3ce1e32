package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/samvidmistry/Armls"
	"github.com/samvidmistry/Armls/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var log = logging.MustGetLogger("armls.cmd")

var (
	flagConfig    string
	flagFormat    string
	flagLogLevel  string
	flagSchemaDir string
	flagCatalog   string
	flagRulesDir  string
	flagOffline   bool
)

// settings is the loaded configuration with flag overrides applied.
var settings config.Config

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// errFindings reports that check found error-severity diagnostics.
var errFindings = errors.New("error diagnostics found")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled && !errors.Is(err, errFindings) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

var rootCmd = &cobra.Command{
	Use:           "armls",
	Short:         "Schema-aware analysis for ARM deployment templates",
	Long:          "armls validates Azure Resource Manager templates against the schemas they declare, and serves hover and completion over the Language Server Protocol. All line and column numbers are 0-based; columns count bytes.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return loadSettings()
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: $"+config.EnvVar+" or ./"+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warning|error")
	rootCmd.PersistentFlags().StringVar(&flagSchemaDir, "schema-dir", "", "local schema directory mirroring the schema host")
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "", "SQLite provider catalog built by 'armls index'")
	rootCmd.PersistentFlags().StringVar(&flagRulesDir, "rules-dir", "", "directory of *.risor rule scripts")
	rootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "never retrieve schemas over HTTP")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(indexCmd)
}

// loadSettings reads the config file, applies flag overrides, and installs
// the log backend.
func loadSettings() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}
	cfg, err := config.Load(config.Find(flagConfig, cwd))
	if err != nil {
		return err
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, _ := cfg.Level()
	setupLogging(level)
	settings = cfg
	return nil
}

// applyFlags overrides cfg with every flag that was given a value.
func applyFlags(cfg *config.Config) {
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagSchemaDir != "" {
		cfg.SchemaDir = resolvePath(flagSchemaDir)
	}
	if flagCatalog != "" {
		cfg.Catalog = resolvePath(flagCatalog)
	}
	if flagRulesDir != "" {
		cfg.RulesDir = resolvePath(flagRulesDir)
	}
	if flagOffline {
		cfg.Offline = true
	}
}

// setupLogging sends every module logger to stderr; stdout carries command
// output and, under serve, the protocol stream.
func setupLogging(level logging.Level) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{module} %{level:.4s} %{message}`)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

// openEngine builds an Engine from settings. It is closed on exit.
func openEngine() (*armls.Engine, error) {
	engine, err := armls.New(settings.EngineOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	atexit.Register(func() {
		if err := engine.Close(); err != nil {
			log.Warningf("closing engine: %v", err)
		}
	})
	return engine, nil
}
