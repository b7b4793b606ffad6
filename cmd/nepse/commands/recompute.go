package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

var recomputeDate string

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Re-derive market aggregates from the sector ledger",
	Long: `Re-evaluates the market aggregate for one date, or for every date that has a
sector or market observation when --date is omitted. Dates that are no longer
complete have their aggregate withdrawn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if recomputeDate == "" {
			n, err := a.engine.Aggregator.RecomputeAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d date(s)\n", n)
			return err
		}

		date, err := models.ParseDate(recomputeDate)
		if err != nil {
			return err
		}
		rec, err := a.engine.Aggregator.Recompute(cmd.Context(), date)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case rec.Market != nil:
			fmt.Fprintf(out, "%s: %s, label %s, total positive %d\n",
				models.DateKey(date), rec.Market.State, rec.Market.Label, rec.Market.TotalPositive)
		case rec.Withdrawn:
			fmt.Fprintf(out, "%s: aggregate withdrawn\n", models.DateKey(date))
		}
		if w := rec.Warning(); w != nil {
			fmt.Fprintln(out, w.Error())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recomputeCmd)
	recomputeCmd.Flags().StringVar(&recomputeDate, "date", "", "trading date (YYYY-MM-DD)")
}
