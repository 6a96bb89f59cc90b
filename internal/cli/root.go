package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chant/internal/config"
	"chant/internal/logger"
)

var (
	configPath  string
	pagePath    string
	catalogPath string
	route       string
	cacheBack   string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "chant",
	Short: "Drive a web page with spoken or typed commands",
	Long: `chant maps what you say to an action registered for the page, works out the
UI steps for it (from its cache or a language model) and performs them one by one,
pausing when a required form field still needs your input.`,
	SilenceUsage: true,
	RunE:         runConsole,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "chant.toml", "path to the TOML config file")
	pf.StringVar(&pagePath, "page", "", "HTML page to operate on (overrides config)")
	pf.StringVar(&catalogPath, "catalog", "", "JSON action catalog (overrides config)")
	pf.StringVar(&route, "route", "", "current page route (overrides config)")
	pf.StringVar(&cacheBack, "cache", "", "cache backend: sqlite, memory, redis or postgres (overrides config)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "print step metrics after each run")

	rootCmd.AddCommand(runCmd, utterCmd, serveCmd, cacheCmd, actionsCmd)
}

// loadConfig reads the config file and applies command-line overrides, then
// opens the log file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if pagePath != "" {
		cfg.PagePath = pagePath
	}
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	if route != "" {
		cfg.Route = route
	}
	if cacheBack != "" {
		cfg.Cache.Backend = cacheBack
	}
	if err := logger.Init(cfg.LogPath, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	return cfg, nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
