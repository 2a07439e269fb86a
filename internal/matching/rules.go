package matching

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Name                    string              `yaml:"name"`
	MatchingType            string              `yaml:"matchingType"`
	AutoMatchThreshold      float64             `yaml:"autoMatchThreshold"`
	PotentialMatchThreshold float64             `yaml:"potentialMatchThreshold"`
	Fields                  map[string]fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Algorithm               string   `yaml:"algorithm"`
	Threshold               *float64 `yaml:"threshold"`
	Weight                  float64  `yaml:"weight"`
	NullHandling            string   `yaml:"nullHandling"`
	NullHandlingOneMissing  string   `yaml:"nullHandlingOneMissing"`
	NullHandlingBothMissing string   `yaml:"nullHandlingBothMissing"`
	Path                    string   `yaml:"path"`
}

// LoadRules parses a YAML rule set. Extractor paths are resolved here so an
// unknown path fails at load time rather than on the first comparison.
// nullHandling is shorthand for both null policies; the specific keys win.
func LoadRules(r io.Reader) ([]MatchRule, error) {
	var doc ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode match rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("match rules: no rules defined")
	}

	rules := make([]MatchRule, 0, len(doc.Rules))
	for i, rd := range doc.Rules {
		name := rd.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		rule := MatchRule{
			Name:                    name,
			MatchingType:            MatchingType(rd.MatchingType),
			AutoMatchThreshold:      rd.AutoMatchThreshold,
			PotentialMatchThreshold: rd.PotentialMatchThreshold,
			Fields:                  make(map[string]FieldRule, len(rd.Fields)),
		}
		for fieldName, fd := range rd.Fields {
			path, err := ParseExtractorPath(fd.Path)
			if err != nil {
				return nil, fmt.Errorf("rule %q field %q: %w", name, fieldName, err)
			}
			one, both := fd.NullHandling, fd.NullHandling
			if fd.NullHandlingOneMissing != "" {
				one = fd.NullHandlingOneMissing
			}
			if fd.NullHandlingBothMissing != "" {
				both = fd.NullHandlingBothMissing
			}
			field := FieldRule{
				Algorithm:               Algorithm(fd.Algorithm),
				Weight:                  fd.Weight,
				NullHandlingOneMissing:  NullHandling(one),
				NullHandlingBothMissing: NullHandling(both),
				Path:                    path,
			}
			if fd.Threshold != nil {
				field.Threshold, field.HasThreshold = *fd.Threshold, true
			}
			rule.Fields[fieldName] = field
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile reads a rule set from path. An empty path yields DefaultRules.
func LoadRulesFile(path string) ([]MatchRule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open match rules: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// DefaultRules is the built-in rule set used when no rules file is configured.
func DefaultRules() []MatchRule {
	return []MatchRule{
		{
			Name:                    "national-id",
			MatchingType:            MatchingDeterministic,
			AutoMatchThreshold:      20,
			PotentialMatchThreshold: 15,
			Fields: map[string]FieldRule{
				"nationalId": {Algorithm: AlgorithmExact, Weight: 10, Path: PathNationalID,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullConservative},
				"birthDate": {Algorithm: AlgorithmExact, Weight: 5, Path: PathBirthDate,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullConservative},
				"family": {Algorithm: AlgorithmPhoneticSimilarity, Threshold: DefaultJaroWinklerThreshold, Weight: 5, Path: PathFamilyName,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullModerate},
			},
		},
		{
			Name:                    "demographics",
			MatchingType:            MatchingProbabilistic,
			AutoMatchThreshold:      22,
			PotentialMatchThreshold: 14,
			Fields: map[string]FieldRule{
				"family": {Algorithm: AlgorithmPhoneticSimilarity, Threshold: DefaultJaroWinklerThreshold, Weight: 6, Path: PathFamilyName,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullConservative},
				"given": {Algorithm: AlgorithmEditDistance, Threshold: DefaultEditDistanceThreshold, Weight: 4, Path: PathGivenName,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullModerate},
				"birthDate": {Algorithm: AlgorithmExact, Weight: 6, Path: PathBirthDate,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullConservative},
				"gender": {Algorithm: AlgorithmExact, Weight: 2, Path: PathGender,
					NullHandlingOneMissing: NullModerate, NullHandlingBothMissing: NullModerate},
				"birthRegistrationNumber": {Algorithm: AlgorithmExact, Weight: 6, Path: PathBirthRegistrationNumber,
					NullHandlingOneMissing: NullConservative, NullHandlingBothMissing: NullConservative},
			},
		},
	}
}
