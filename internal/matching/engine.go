// Package matching decides whether an incoming person is the same real-world
// subject as one already held by the registry.
//
// Each configured rule sums weighted field comparisons into a score and
// classifies it against two thresholds. A candidate keeps the score of the
// rule that rated it strictly highest; candidates that end up as no-match are
// dropped and the rest are ranked by score.
package matching

import (
	"errors"
	"log/slog"
	"sort"

	"regsync/internal/entity"
	"regsync/internal/matching/metrics"
)

type Engine struct {
	rules   []MatchRule
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine validates rules and returns an engine that applies them in order.
func NewEngine(rules []MatchRule, opts ...Option) (*Engine, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one match rule is required")
	}
	validated := make([]MatchRule, 0, len(rules))
	for _, r := range rules {
		fields := make(map[string]FieldRule, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		r.Fields = fields
		if err := r.Validate(); err != nil {
			return nil, err
		}
		validated = append(validated, r)
	}

	e := &Engine{
		rules:  validated,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns a copy of the validated rule set.
func (e *Engine) Rules() []MatchRule {
	return append([]MatchRule(nil), e.rules...)
}

// ScoreRule compares subject and candidate under a single rule.
func ScoreRule(rule MatchRule, subject, candidate *entity.Person) Score {
	names := make([]string, 0, len(rule.Fields))
	for name := range rule.Fields {
		names = append(names, name)
	}
	// Fixed summation order keeps float totals reproducible.
	sort.Strings(names)

	score := Score{PerField: make(map[string]float64, len(names)), Rule: rule.Name}
	for _, name := range names {
		f := rule.Fields[name]
		a, okA := f.Path.Extract(subject)
		b, okB := f.Path.Extract(candidate)

		var s float64
		switch {
		case !okA && !okB:
			s = f.NullHandlingBothMissing.Score(f.Weight)
		case !okA || !okB:
			s = f.NullHandlingOneMissing.Score(f.Weight)
		default:
			s = compareField(f, a, b)
		}
		score.PerField[name] = s
		score.Total += s
	}
	score.Level = rule.Classify(score.Total)
	return score
}

// Score returns the best score for candidate across all rules. The first rule
// keeps ties.
func (e *Engine) Score(subject, candidate *entity.Person) Score {
	var best Score
	for i, rule := range e.rules {
		s := ScoreRule(rule, subject, candidate)
		if i == 0 || s.Total > best.Total {
			best = s
		}
	}
	return best
}

// Resolve scores every candidate and returns the matches ranked by descending
// score. No-match candidates are excluded; an empty result is a normal outcome.
func (e *Engine) Resolve(subject *entity.Person, candidates []entity.Person) []Result {
	results := make([]Result, 0, len(candidates))
	for i := range candidates {
		s := e.Score(subject, &candidates[i])
		if e.metrics != nil {
			e.metrics.IncrementResult(string(s.Level))
		}
		if s.Level == LevelNoMatch {
			continue
		}
		results = append(results, Result{Candidate: candidates[i], Score: s})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score.Total > results[j].Score.Total
	})
	return results
}
