package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"regsync/internal/entity"
	"regsync/internal/matching"
)

type matchOptions struct {
	RulesPath      string
	SubjectPath    string
	CandidatesPath string
}

// MatchResult is one ranked candidate as printed by `regsync match`.
type MatchResult struct {
	CandidateID string              `json:"candidate_id,omitempty"`
	Rule        string              `json:"rule"`
	TotalScore  float64             `json:"total_score"`
	Level       matching.MatchLevel `json:"level"`
	PerField    map[string]float64  `json:"per_field"`
}

// NewMatchCommand scores a subject against candidates offline.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &matchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Score a subject person against candidate persons",
		Long: `Loads a rule set and prints the candidates that reach at least a
potential match, highest score first. The subject file holds one person
document; the candidates file holds a JSON array of person documents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "YAML rule set (built-in rules when empty)")
	cmd.Flags().StringVar(&opts.SubjectPath, "subject", "", "JSON file with the subject person")
	cmd.Flags().StringVar(&opts.CandidatesPath, "candidates", "", "JSON file with an array of candidate persons")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("candidates")

	return cmd
}

func runMatch(opts *matchOptions, out io.Writer) error {
	rules, err := matching.LoadRulesFile(opts.RulesPath)
	if err != nil {
		return err
	}
	engine, err := matching.NewEngine(rules)
	if err != nil {
		return err
	}

	var subject entity.Person
	if err := readJSONFile(opts.SubjectPath, &subject); err != nil {
		return fmt.Errorf("read subject: %w", err)
	}
	var candidates []entity.Person
	if err := readJSONFile(opts.CandidatesPath, &candidates); err != nil {
		return fmt.Errorf("read candidates: %w", err)
	}

	results := engine.Resolve(&subject, candidates)
	printed := make([]MatchResult, 0, len(results))
	for _, r := range results {
		printed = append(printed, MatchResult{
			CandidateID: r.Candidate.ID,
			Rule:        r.Score.Rule,
			TotalScore:  r.Score.Total,
			Level:       r.Score.Level,
			PerField:    r.Score.PerField,
		})
	}
	return writeJSON(out, printed)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
