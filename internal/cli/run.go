package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-alerts/internal/engine"
	"price-alerts/internal/models"
	"price-alerts/internal/pricing"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alert scheduler in the foreground",
		Long: `Run the alert scheduler until interrupted.

Every interval the scheduler fetches the price of each watched pair once,
fires alerts whose condition holds and delivers their notifications.
SIGINT or SIGTERM finishes the current pass and saves before exiting.

While running, the daemon holds a lock on the store and the commands that
change alerts refuse to run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
				app.Config.Engine.Interval = interval
			}

			lock, err := app.lockStore()
			if err != nil {
				return err
			}
			defer lock.Release()

			eng, err := app.buildEngine(ctx, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					app.Logger.Error().Err(err).Msg("Shutdown incomplete")
				}
			}()

			stats := eng.Stats()
			app.Logger.Info().
				Str("provider", app.Config.Pricing.Provider).
				Str("store", app.Config.Store.Backend).
				Str("lock", lock.Path()).
				Int("pending", stats.Pending).
				Msg("Starting alert daemon")

			if app.Config.Health.Enabled {
				stop := app.startHealth(ctx, eng)
				defer stop()
			}

			return eng.Run(ctx)
		},
	}
	cmd.Flags().Duration("interval", 0, "override the polling interval (e.g. 30s)")
	return cmd
}

func newCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single evaluation pass and exit",
		Long: `Fetch prices for every pending alert once, fire and notify matching alerts,
save, and print what happened.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			lock, err := app.lockStore()
			if err != nil {
				return err
			}
			defer lock.Release()

			eng, err := app.buildEngine(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer eng.Close()

			report := eng.Tick(cmd.Context())
			if output.IsJSON() {
				return output.JSON(report)
			}
			printReport(output, report)
			return nil
		},
	}
}

func printReport(output *Output, r engine.TickReport) {
	output.Bold("Evaluation pass")
	output.Printf("  Pending alerts: %d across %d pairs\n", r.Pending, r.Pairs)
	output.Printf("  Fetched:        %d\n", r.Fetched)
	if r.Deferred > 0 {
		output.Printf("  Deferred:       %s\n", output.Yellow(fmt.Sprint(r.Deferred)))
	}
	if r.Skipped > 0 {
		output.Printf("  Skipped:        %d\n", r.Skipped)
	}
	output.Dim("  Took %s", r.Duration.Round(time.Millisecond))

	if len(r.Quotes) > 0 {
		output.Println()
		table := NewTable(output, "PAIR", "PRICE")
		for _, q := range r.Quotes {
			table.AddRow(q.Pair.String(), FormatPrice(q.Price, q.Pair.QuoteCurrency))
		}
		table.Render()
	}

	if len(r.Failures) > 0 {
		output.Println()
		table := NewTable(output, "PAIR", "KIND", "ALERTS", "ERROR")
		for _, f := range r.Failures {
			table.AddRow(f.Pair.String(), output.Red(string(f.Kind)), fmt.Sprint(f.Alerts), f.Error)
		}
		table.Render()
	}

	output.Println()
	if len(r.Fired) == 0 {
		output.Dim("No alerts fired")
	}
	for _, ev := range r.Fired {
		output.Success("🔔 %s fired: %s/%s %s %s at %s",
			ev.AlertID, ev.Asset, ev.QuoteCurrency, ev.Operator,
			FormatPrice(ev.Threshold, ev.QuoteCurrency), FormatPrice(ev.Price, ev.QuoteCurrency))
	}
	if r.DeliveryFailures > 0 {
		output.Warning("%d notification(s) could not be delivered", r.DeliveryFailures)
	}
	if r.SaveError != "" {
		output.Error("Saving failed: %s", r.SaveError)
	}
}

func newPriceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "price ASSET [QUOTE]",
		Short: "Fetch the current price of a pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			asset := models.CanonicalSymbol(args[0])
			quote := "USD"
			if len(args) == 2 {
				quote = models.CanonicalSymbol(args[1])
			}

			src, err := pricing.New(app.Config.Pricing, app.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Engine.FetchTimeout)
			defer cancel()

			price, err := src.GetPrice(ctx, asset, quote)
			if err != nil {
				return fmt.Errorf("%s/%s: %w (%s)", asset, quote, err, pricing.Classify(err))
			}

			q := models.Quote{
				Pair:      models.Pair{Asset: asset, QuoteCurrency: quote},
				Price:     price,
				Source:    app.Config.Pricing.Provider,
				Timestamp: time.Now().UTC(),
			}
			if output.IsJSON() {
				return output.JSON(q)
			}
			output.Printf("%s  %s  %s\n", q.Pair, output.Green(FormatPrice(q.Price, quote)), output.DimText(q.Source))
			return nil
		},
	}
}
