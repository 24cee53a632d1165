package cli

import (
	"fmt"
	"os"

	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/spf13/cobra"
)

var mappingsCSV string

func init() {
	rootCmd.AddCommand(mappingsCmd)
	mappingsCmd.Flags().StringVar(&mappingsCSV, "csv", "", "Scored CSV with <attribute> and <attribute>_Score columns (required)")
	mappingsCmd.MarkFlagRequired("csv")
}

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Check a scored CSV against the attribute score table",
	Long: "Derives the value→score mapping observed in a scored CSV and lists every\n" +
		"value whose score disagrees with the built-in table. Exits non-zero on drift.",
	RunE: runMappings,
}

func runMappings(cmd *cobra.Command, args []string) error {
	f, err := os.Open(mappingsCSV)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", mappingsCSV, err)
	}
	defer f.Close()

	m, err := dataset.DeriveMappings(f)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	diffs := m.Diff()
	if len(diffs) == 0 {
		fmt.Fprintln(w, "Score table matches the dataset.")
		return nil
	}
	for _, d := range diffs {
		fmt.Fprintln(w, d.String())
	}
	return fmt.Errorf("%d mapping(s) differ from the score table", len(diffs))
}
