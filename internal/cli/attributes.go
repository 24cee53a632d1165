package cli

import (
	"encoding/json"
	"fmt"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/spf13/cobra"
)

var attrFormat string

func init() {
	rootCmd.AddCommand(attributesCmd)
	attributesCmd.Flags().StringVarP(&attrFormat, "format", "f", "text", "Output format (text|json)")
}

var attributesCmd = &cobra.Command{
	Use:   "attributes",
	Short: "Print the attribute score table",
	RunE:  runAttributes,
}

type attributeValue struct {
	Value string `json:"value"`
	Score int    `json:"score"`
}

type attributeTable struct {
	Key      string           `json:"key"`
	ScoreKey string           `json:"score_key"`
	Values   []attributeValue `json:"values"`
}

func scoreTable() []attributeTable {
	out := make([]attributeTable, 0, engine.NumAttributes)
	for _, a := range engine.Attributes() {
		t := attributeTable{Key: a.Key(), ScoreKey: a.ScoreKey()}
		for _, v := range engine.Domain(a) {
			score, _ := engine.Lookup(a, v)
			t.Values = append(t.Values, attributeValue{Value: v, Score: score})
		}
		out = append(out, t)
	}
	return out
}

func runAttributes(cmd *cobra.Command, args []string) error {
	table := scoreTable()
	w := cmd.OutOrStdout()

	switch attrFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	case "text":
		for _, t := range table {
			fmt.Fprintf(w, "%s (%s)\n", t.Key, t.ScoreKey)
			for _, v := range t.Values {
				fmt.Fprintf(w, "  %-40s %+d\n", v.Value, v.Score)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or json)", attrFormat)
	}
}
