package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/trogers1052/nepse-sentiment/internal/csvio"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

var (
	exportSector string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write sector observations as CSV",
	Long: `Writes the ledger as CSV, newest date first within each sector. With
--sector only that sector is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sectors := a.engine.Sectors()
		if exportSector != "" {
			s, err := a.engine.ParseSector(exportSector)
			if err != nil {
				return err
			}
			sectors = []models.Sector{s}
		}

		var all []*models.SectorObservation
		for _, s := range sectors {
			obs, err := a.engine.Ledger.ListBySector(cmd.Context(), s)
			if err != nil {
				return err
			}
			all = append(all, obs...)
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return csvio.Export(w, all)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportSector, "sector", "", "only export this sector")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}
