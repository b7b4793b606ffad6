package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trogers1052/nepse-sentiment/internal/csvio"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/retry"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Bulk load sector observations from CSV",
	Long: `Reads sector observations from a CSV file with a header row. The columns
sector, date and positive_count are required; negative_count, unchanged_count
and total_count are optional. Every row is parsed before anything is
written, and all stored dates are recomputed afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		inputs, err := csvio.Import(f, a.engine.Sectors())
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		ctx := cmd.Context()
		policy := a.retryPolicy()
		for _, in := range inputs {
			err := retry.Do(ctx, policy, sentiment.IsTransient, func() error {
				_, _, err := a.engine.Ledger.Upsert(ctx, in)
				return err
			})
			if err != nil {
				return fmt.Errorf("import %s on %s: %w", in.Sector, models.DateKey(in.Date), err)
			}
		}

		n, err := a.engine.Aggregator.RecomputeAll(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d row(s), recomputed %d date(s)\n", len(inputs), n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
