package main

import (
	"charcards/config"
	"charcards/library"
	"charcards/storage"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	logger   *slog.Logger
	logLevel = new(slog.LevelVar)
	cfgPath  string
	debug    bool
)

func setLogLevel(sl string) {
	switch strings.ToLower(sl) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}

// app is what every command works on; closing it releases the db and log.
type app struct {
	lib     *library.Library
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func setup() (*app, error) {
	var err error
	cfg, err = config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfgPath, err)
	}
	a := &app{}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		logfile, err := os.OpenFile(cfg.LogFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
		}
		a.closers = append(a.closers, logfile)
		out = logfile
	}
	setLogLevel(cfg.LogLevel)
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel}))
	store, err := storage.NewProviderSQL(cfg.DBPATH, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open db %s: %w", cfg.DBPATH, err)
	}
	a.closers = append(a.closers, store)
	a.lib = library.New(store, cfg, logger)
	return a, nil
}

// withApp wraps a command body with setup and teardown.
func withApp(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, args, a)
	}
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "charcards",
		Short:         "Import, edit and export character cards (png and json)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.toml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newQRCmd())
	rootCmd.AddCommand(newBundleCmd())
	return rootCmd
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
