package cli

import (
	"fmt"
	"time"

	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	sampleDataset string
	sampleSeed    uint64
	sampleCount   int
	sampleSynth   bool
)

func init() {
	rootCmd.AddCommand(sampleCmd)
	sampleCmd.Flags().StringVar(&sampleDataset, "dataset", "", "Scenario CSV, default dataset_path from config")
	sampleCmd.Flags().Uint64Var(&sampleSeed, "seed", 0, "Random seed (0 = time based)")
	sampleCmd.Flags().IntVarP(&sampleCount, "count", "n", 1, "Number of scenarios to draw")
	sampleCmd.Flags().BoolVar(&sampleSynth, "synthesize", false, "Shuffle each attribute column independently before drawing")
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw random scenarios from the dataset as YAML",
	Long: "Prints scenarios drawn at random from the dataset, in the YAML form\n" +
		"accepted by `mdmp evaluate`. With --synthesize the attribute columns are\n" +
		"shuffled independently first, yielding combinations absent from the file.",
	RunE: runSample,
}

func runSample(cmd *cobra.Command, args []string) error {
	path := sampleDataset
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.DatasetPath
	}
	if path == "" {
		return fmt.Errorf("no dataset: pass --dataset or set dataset_path")
	}
	if sampleCount < 1 {
		return fmt.Errorf("--count must be >= 1, got %d", sampleCount)
	}

	ds, err := dataset.LoadFile(path)
	if err != nil {
		return err
	}

	seed := sampleSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := dataset.NewRand(seed)
	if sampleSynth {
		if ds, err = ds.Shuffle(rng); err != nil {
			return err
		}
	}
	rows := make([]map[string]string, 0, sampleCount)
	for range sampleCount {
		row, err := ds.Random(rng)
		if err != nil {
			return err
		}
		rows = append(rows, row.Scenario.Raw())
	}

	out, err := yaml.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode scenarios: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
