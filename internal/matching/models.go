package matching

import (
	"fmt"

	"regsync/internal/entity"
)

// MatchingType labels a rule. Scoring is identical for both kinds; the label
// travels with the score so operators can tell which rule set decided.
type MatchingType string

const (
	MatchingDeterministic MatchingType = "deterministic"
	MatchingProbabilistic MatchingType = "probabilistic"
)

// Algorithm selects the field comparator.
type Algorithm string

const (
	AlgorithmExact              Algorithm = "exact"
	AlgorithmEditDistance       Algorithm = "edit-distance"
	AlgorithmPhoneticSimilarity Algorithm = "phonetic-similarity"
)

// Default comparator thresholds, applied when a rule leaves threshold at zero.
const (
	DefaultEditDistanceThreshold = 2
	DefaultJaroWinklerThreshold  = 0.85
)

// NullHandling decides how much weight a field earns when values are missing.
type NullHandling string

const (
	NullConservative NullHandling = "conservative"
	NullModerate     NullHandling = "moderate"
	NullGreedy       NullHandling = "greedy"
)

// Score returns the fraction of weight granted under this policy.
func (n NullHandling) Score(weight float64) float64 {
	switch n {
	case NullGreedy:
		return weight
	case NullModerate:
		return weight * 0.5
	default:
		return 0
	}
}

func (n NullHandling) valid() bool {
	return n == NullConservative || n == NullModerate || n == NullGreedy
}

// MatchLevel is the three-tier classification of a score.
type MatchLevel string

const (
	LevelAutoMatch      MatchLevel = "auto-match"
	LevelPotentialMatch MatchLevel = "potential-match"
	LevelNoMatch        MatchLevel = "no-match"
)

// FieldRule configures the comparison of one field. A zero Threshold is
// replaced by the algorithm default unless HasThreshold is set.
type FieldRule struct {
	Algorithm               Algorithm
	Threshold               float64
	HasThreshold            bool
	Weight                  float64
	NullHandlingOneMissing  NullHandling
	NullHandlingBothMissing NullHandling
	Path                    ExtractorPath
}

// MatchRule is a weighted set of field comparisons with two thresholds in the
// same unit as the summed field weights.
type MatchRule struct {
	Name                    string
	MatchingType            MatchingType
	Fields                  map[string]FieldRule
	AutoMatchThreshold      float64
	PotentialMatchThreshold float64
}

// Classify maps a total score onto a match level. Both boundaries are inclusive.
func (r MatchRule) Classify(total float64) MatchLevel {
	switch {
	case total >= r.AutoMatchThreshold:
		return LevelAutoMatch
	case total >= r.PotentialMatchThreshold:
		return LevelPotentialMatch
	default:
		return LevelNoMatch
	}
}

// Validate checks the rule and fills comparator defaults.
func (r *MatchRule) Validate() error {
	if len(r.Fields) == 0 {
		return fmt.Errorf("rule %q: at least one field is required", r.Name)
	}
	if r.MatchingType != MatchingDeterministic && r.MatchingType != MatchingProbabilistic {
		return fmt.Errorf("rule %q: unknown matching type %q", r.Name, r.MatchingType)
	}
	if r.PotentialMatchThreshold > r.AutoMatchThreshold {
		return fmt.Errorf("rule %q: potential match threshold %.2f exceeds auto match threshold %.2f",
			r.Name, r.PotentialMatchThreshold, r.AutoMatchThreshold)
	}
	for name, f := range r.Fields {
		if f.Weight < 0 {
			return fmt.Errorf("rule %q field %q: weight must not be negative", r.Name, name)
		}
		switch f.Algorithm {
		case AlgorithmExact:
		case AlgorithmEditDistance:
			if !f.HasThreshold && f.Threshold == 0 {
				f.Threshold = DefaultEditDistanceThreshold
			}
		case AlgorithmPhoneticSimilarity:
			if !f.HasThreshold && f.Threshold == 0 {
				f.Threshold = DefaultJaroWinklerThreshold
			}
		default:
			return fmt.Errorf("rule %q field %q: unknown algorithm %q", r.Name, name, f.Algorithm)
		}
		if f.Threshold < 0 {
			return fmt.Errorf("rule %q field %q: threshold must not be negative", r.Name, name)
		}
		f.HasThreshold = true
		if f.NullHandlingOneMissing == "" {
			f.NullHandlingOneMissing = NullConservative
		}
		if f.NullHandlingBothMissing == "" {
			f.NullHandlingBothMissing = NullConservative
		}
		if !f.NullHandlingOneMissing.valid() || !f.NullHandlingBothMissing.valid() {
			return fmt.Errorf("rule %q field %q: unknown null handling", r.Name, name)
		}
		if !f.Path.valid() {
			return fmt.Errorf("rule %q field %q: extractor path is required", r.Name, name)
		}
		r.Fields[name] = f
	}
	return nil
}

// Score is the outcome of comparing one candidate under one rule.
type Score struct {
	Total    float64
	PerField map[string]float64
	Level    MatchLevel
	Rule     string
}

// Result pairs a candidate with its best score.
type Result struct {
	Candidate entity.Person
	Score     Score
}
