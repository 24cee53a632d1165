package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/spf13/cobra"
)

var (
	evalPolicy   string
	evalFormat   string
	evalAdvisory bool
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalPolicy, "policy", "p", "", "Decision policy (threshold|classifier), default from config")
	evaluateCmd.Flags().StringVarP(&evalFormat, "format", "f", "text", "Output format (text|json)")
	evaluateCmd.Flags().BoolVar(&evalAdvisory, "advisory", false, "Attach the classifier label to threshold decisions")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <scenario-file>",
	Short: "Decide one or more scenarios from a YAML or JSON file",
	Long: "Reads a scenario mapping, or a list of them, and prints the decision for\n" +
		"each. Use - to read from stdin. Invalid scenarios are reported per item.",
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

// evaluation is the printable outcome of one scenario.
type evaluation struct {
	Index           int                `json:"index"`
	Decision        string             `json:"decision,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	Policy          string             `json:"policy,omitempty"`
	OverrideRule    string             `json:"override_rule,omitempty"`
	TotalScore      int                `json:"total_score"`
	Scores          map[string]int     `json:"scores,omitempty"`
	Percentages     map[string]float64 `json:"percentages,omitempty"`
	ClassifierLabel *string            `json:"classifier_label,omitempty"`
	Error           string             `json:"error,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy, _ := cfg.Policy()
	if evalPolicy != "" {
		if policy, err = engine.ParsePolicy(evalPolicy); err != nil {
			return err
		}
	}

	raws, err := readScenarios(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := mustBuildLogger(cfg.LogLevel, "stderr")
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	arbiter, closeClassifier, err := buildArbiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClassifier()

	items, _ := arbiter.EvaluateBatch(ctx, raws, policy, engine.Options{Advisory: evalAdvisory}, cfg.BatchWorkers)
	out := make([]evaluation, 0, len(items))
	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			out = append(out, evaluation{Index: item.Index, Error: item.Err.Error()})
			continue
		}
		out = append(out, toEvaluation(item.Index, item.Result))
	}

	if err := printEvaluations(cmd.OutOrStdout(), out, evalFormat); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios could not be evaluated", failed, len(items))
	}
	return nil
}

func toEvaluation(index int, res *engine.Result) evaluation {
	pcts := make(map[string]float64, len(res.Percentages))
	for a, p := range res.Percentages {
		pcts[a.Key()] = p
	}
	ev := evaluation{
		Index:           index,
		Decision:        res.Decision.String(),
		Reason:          res.Reason,
		Policy:          res.Policy.String(),
		TotalScore:      res.Scored.Total,
		Scores:          res.Scored.Features(),
		Percentages:     pcts,
		ClassifierLabel: res.ClassifierLabel,
	}
	if res.Override.Matched {
		ev.OverrideRule = res.Override.Rule
	}
	return ev
}

func printEvaluations(w io.Writer, evs []evaluation, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(evs)
	case "text":
		fmt.Fprintf(w, "%-6s %-18s %-6s %-20s %s\n", "#", "DECISION", "TOTAL", "OVERRIDE", "REASON")
		for _, ev := range evs {
			if ev.Error != "" {
				fmt.Fprintf(w, "%-6d %-18s %-6s %-20s %s\n", ev.Index, "ERROR", "-", "-", ev.Error)
				continue
			}
			override := ev.OverrideRule
			if override == "" {
				override = "-"
			}
			fmt.Fprintf(w, "%-6d %-18s %-6d %-20s %s\n", ev.Index, ev.Decision, ev.TotalScore, override, ev.Reason)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}
