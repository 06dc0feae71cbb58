package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"price-alerts/internal/engine"
	"price-alerts/internal/models"
)

func newAlertCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Manage price alerts",
		Long: `Create, list, cancel and purge price alerts.

These commands edit the configured store directly. add, cancel and purge
refuse to run while 'alertd run' holds the store lock; list is always allowed.`,
	}

	cmd.AddCommand(newAlertAddCmd(app))
	cmd.AddCommand(newAlertListCmd(app))
	cmd.AddCommand(newAlertCancelCmd(app))
	cmd.AddCommand(newAlertPurgeCmd(app))

	return cmd
}

func newAlertAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add ASSET OPERATOR THRESHOLD",
		Short: "Create an alert",
		Long: `Create an alert that fires once when ASSET's price satisfies the condition.

OPERATOR is one of >=, <=, >, <, == (also: above, below). Put flags first and
separate the positional arguments with -- when THRESHOLD starts with a minus sign.`,
		Example: `  alertd alert add btc ">=" 70000 --owner 123456
  alertd alert add eth below 2500 --quote eur --owner alice --to @price_channel`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			threshold, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("threshold %q is not a number", args[2])
			}
			owner, _ := cmd.Flags().GetString("owner")
			quote, _ := cmd.Flags().GetString("quote")
			dest, _ := cmd.Flags().GetString("to")
			note, _ := cmd.Flags().GetString("note")

			lock, err := app.lockStore()
			if err != nil {
				return err
			}
			defer lock.Release()

			eng, err := app.buildEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer eng.Close()

			a, err := eng.CreateAlert(cmd.Context(), engine.CreateRequest{
				Owner:       owner,
				Destination: dest,
				Asset:       args[0],
				Quote:       quote,
				Operator:    args[1],
				Threshold:   threshold,
				Note:        note,
			})
			if err != nil {
				return err
			}
			if err := eng.Flush(cmd.Context()); err != nil {
				output.Warning("Alert created in memory but not saved: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(a)
			}
			output.Success("✓ Alert %s created: %s", a.ID, FormatCondition(a))
			return nil
		},
	}
	cmd.Flags().String("owner", "", "owner id (chat user id or mailbox)")
	cmd.Flags().String("quote", "USD", "quote currency")
	cmd.Flags().String("to", "", "channel destination; empty sends to the owner directly")
	cmd.Flags().String("note", "", "free-text note included in the notification")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAlertListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			owner, _ := cmd.Flags().GetString("owner")
			all, _ := cmd.Flags().GetBool("all")

			eng, err := app.buildEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer eng.Close()

			alerts := eng.ListAlerts(owner, all)
			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No alerts")
				return nil
			}
			printAlerts(output, alerts, time.Now())
			return nil
		},
	}
	cmd.Flags().String("owner", "", "only show alerts of this owner")
	cmd.Flags().BoolP("all", "a", false, "include fired and cancelled alerts")
	return cmd
}

func printAlerts(output *Output, alerts []models.Alert, now time.Time) {
	table := NewTable(output, "ID", "OWNER", "CONDITION", "STATUS", "CREATED", "FIRED AT")
	for _, a := range alerts {
		fired := "-"
		if a.FiredAt != nil {
			fired = FormatPrice(a.FiredPrice, a.QuoteCurrency)
		}
		table.AddRow(
			a.ID,
			a.Owner,
			FormatCondition(a),
			output.Status(a.Status),
			humanize.RelTime(a.CreatedAt, now, "ago", "from now"),
			fired,
		)
	}
	table.Render()
}

func newAlertCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			owner, _ := cmd.Flags().GetString("owner")

			lock, err := app.lockStore()
			if err != nil {
				return err
			}
			defer lock.Release()

			eng, err := app.buildEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.CancelAlert(cmd.Context(), args[0], owner); err != nil {
				return err
			}
			if err := eng.Flush(cmd.Context()); err != nil {
				return err
			}

			a, err := eng.GetAlert(args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(a)
			}
			if a.Status == models.AlertCancelled {
				output.Success("✓ Alert %s cancelled", a.ID)
			} else {
				output.Info("Alert %s is already %s", a.ID, a.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "owner of the alert")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAlertPurgeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete fired and cancelled alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			lock, err := app.lockStore()
			if err != nil {
				return err
			}
			defer lock.Release()

			eng, err := app.buildEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer eng.Close()

			n, err := eng.Purge(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"removed": n})
			}
			output.Success("✓ Removed %d alert(s)", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "only remove alerts that finished before this long ago")
	return cmd
}
