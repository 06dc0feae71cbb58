// Package cli provides the command-line interface for the alert daemon.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"price-alerts/internal/config"
	"price-alerts/internal/engine"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/logging"
	"price-alerts/internal/notify"
	"price-alerts/internal/pricing"
	"price-alerts/internal/store"
)

// Version information
var (
	Version   = "0.3.0"
	BuildDate = "unknown"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "alertd",
		Short: "Crypto price alert daemon",
		Long: `alertd watches cryptocurrency prices and notifies you once when a price
crosses a threshold you set.

Alerts are kept in a local store and survive restarts. Run 'alertd run' to start
the scheduler, or 'alertd alert add' to register a new alert.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/price-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newAlertCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	a.ConfigDir, _ = cmd.Flags().GetString("config")
	if a.ConfigDir == "" {
		a.ConfigDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

// buildEngine wires the store, price source and dispatcher selected in the
// configuration and loads persisted alerts. With scheduling false the price
// source and notification channels are not created.
func (a *App) buildEngine(ctx context.Context, scheduling bool) (*engine.Engine, error) {
	st, err := store.New(a.Config.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var (
		src        pricing.Source
		dispatcher notify.Dispatcher = notify.NoOpDispatcher{}
	)
	if scheduling {
		src, err = pricing.New(a.Config.Pricing, a.Logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating price source: %w", err)
		}
		router, err := notify.NewRouter(a.Config.Notifications, a.Logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating notification router: %w", err)
		}
		a.Logger.Info().Strs("channels", router.Channels()).Msg("Notification channels ready")
		dispatcher = router
	}

	opts := engine.OptionsFromConfig(a.Config.Engine)
	opts.SourceName = a.Config.Pricing.Provider

	eng := engine.New(st, src, dispatcher, opts, a.Logger)
	if err := eng.Load(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

// lockStore claims the configured store for a command that writes it. It
// fails while a daemon or another writing command holds the store.
func (a *App) lockStore() (*store.Lock, error) {
	lock, err := store.AcquireLock(store.LockPath(a.Config.Store, a.ConfigDir))
	if errors.Is(err, apperrors.ErrStoreLocked) {
		return nil, fmt.Errorf("%w (is 'alertd run' active? stop it before changing alerts)", err)
	}
	return lock, err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("alertd v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View the effective configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Interval:          %s\n", cfg.Engine.Interval)
	output.Printf("  Fetch timeout:     %s\n", cfg.Engine.FetchTimeout)
	output.Printf("  Delivery timeout:  %s\n", cfg.Engine.DeliveryTimeout)
	output.Printf("  Max fetches:       %d\n", cfg.Engine.MaxConcurrentFetches)
	output.Printf("  Equality tol.:     %g (abs %g)\n", cfg.Engine.EqualityTolerance, cfg.Engine.EqualityAbsTolerance)
	output.Println()

	output.Bold("Store")
	output.Printf("  Backend:           %s\n", cfg.Store.Backend)
	if cfg.Store.Backend == "redis" {
		output.Printf("  Redis:             %s db=%d key=%s\n", cfg.Store.Redis.Addr, cfg.Store.Redis.DB, cfg.Store.Redis.Key)
	} else {
		output.Printf("  Path:              %s\n", cfg.Store.Path)
	}
	output.Println()

	output.Bold("Pricing")
	output.Printf("  Provider:          %s\n", cfg.Pricing.Provider)
	if cfg.Pricing.Provider == "coingecko" {
		output.Printf("  Base URL:          %s\n", cfg.Pricing.CoinGecko.BaseURL)
		output.Printf("  Cache TTL:         %s\n", cfg.Pricing.CoinGecko.CacheTTL)
		output.Printf("  Requests/minute:   %d\n", cfg.Pricing.CoinGecko.RequestsPerMinute)
	}
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Log:               %v\n", cfg.Notifications.Log)
	output.Printf("  Terminal:          %v\n", cfg.Notifications.Terminal.Enabled)
	output.Printf("  Webhook:           %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:          %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Email:             %v\n", cfg.Notifications.Email.Enabled)
	output.Printf("  NATS:              %v\n", cfg.Notifications.NATS.Enabled)
	output.Println()

	output.Bold("Health")
	if cfg.Health.Enabled {
		output.Printf("  Listen:            %s (every %s)\n", cfg.Health.Listen, cfg.Health.CheckInterval)
	} else {
		output.Printf("  Enabled:           false\n")
	}
}
