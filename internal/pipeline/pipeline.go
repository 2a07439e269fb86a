// Package pipeline is the per-record processing callback shared by the CDC
// poller and the ledger retrier: translate, resolve against the registry,
// then submit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"regsync/internal/entity"
	ingest "regsync/internal/ingest/models"
	"regsync/internal/matching"
	"regsync/internal/pipeline/metrics"
	"regsync/internal/registry"
	"regsync/internal/review"
	"regsync/pkg/cyclecontext"
)

// Resolution decisions.
const (
	DecisionMerged = "merged"
	DecisionReview = "review"
	DecisionNew    = "new"
)

var tracer = otel.Tracer("regsync/pipeline")

// Registry searches candidates and accepts submissions.
type Registry interface {
	Search(ctx context.Context, params registry.SearchParams) ([]entity.Person, error)
	Submit(ctx context.Context, person *entity.Person) (string, error)
}

// Resolver ranks candidates against a subject.
type Resolver interface {
	Resolve(subject *entity.Person, candidates []entity.Person) []matching.Result
}

// ReviewPublisher queues potential matches for manual review.
type ReviewPublisher interface {
	Publish(ctx context.Context, event review.Event) error
}

// Outcome describes what Process did with one record.
type Outcome struct {
	Decision   string
	RegistryID string
	Best       *matching.Result
}

type Processor struct {
	registry Registry
	resolver Resolver
	reviews  ReviewPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithReviewPublisher(r ReviewPublisher) Option {
	return func(p *Processor) {
		p.reviews = r
	}
}

func New(reg Registry, resolver Resolver, opts ...Option) (*Processor, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	p := &Processor{
		registry: reg,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reviews == nil {
		p.reviews = review.NewLogPublisher(p.logger)
	}
	return p, nil
}

// Process satisfies the poller and retrier callback.
func (p *Processor) Process(ctx context.Context, rec ingest.SourceRecord) error {
	_, err := p.ProcessRecord(ctx, rec)
	return err
}

// ProcessRecord runs the full flow for rec. Re-running it for a record that
// was already submitted resolves to that registry entry and updates it, so
// replays from the ledger do not create duplicates.
func (p *Processor) ProcessRecord(ctx context.Context, rec ingest.SourceRecord) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", rec.ID))

	var outcome Outcome
	person, err := entity.Translate(rec.ID, rec.Payload)
	if err != nil {
		return outcome, fmt.Errorf("translate %s: %w", rec.ID, err)
	}
	if rec.NaturalKeyRef != "" && person.IdentifierValue(entity.SystemExternalReference) == "" {
		person.Identifiers = append(person.Identifiers, entity.Identifier{
			System: entity.SystemExternalReference,
			Value:  rec.NaturalKeyRef,
		})
	}

	var candidates []entity.Person
	if params := registry.ParamsFor(person); !params.IsZero() {
		candidates, err = p.registry.Search(ctx, params)
		if err != nil {
			return outcome, fmt.Errorf("search candidates: %w", err)
		}
	}

	outcome.Decision = DecisionNew
	results := p.resolver.Resolve(person, candidates)
	if len(results) > 0 {
		best := results[0]
		outcome.Best = &best
		switch best.Score.Level {
		case matching.LevelAutoMatch:
			person.MergeMissing(&best.Candidate)
			outcome.Decision = DecisionMerged
		case matching.LevelPotentialMatch:
			outcome.Decision = DecisionReview
		}
	}
	span.SetAttributes(attribute.String("decision", outcome.Decision))

	id, err := p.registry.Submit(ctx, person)
	if err != nil {
		return outcome, fmt.Errorf("submit %s: %w", rec.ID, err)
	}
	outcome.RegistryID = id

	if outcome.Decision == DecisionReview {
		event := review.NewEvent(rec.ID, *outcome.Best, cyclecontext.Now(ctx))
		event.SubmittedID = id
		if err := p.reviews.Publish(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "failed to publish review event",
				"source_id", rec.ID,
				"candidate_id", event.CandidateID,
				"error", err,
			)
		}
	}
	if p.metrics != nil {
		p.metrics.IncrementDecision(outcome.Decision)
	}

	p.logger.DebugContext(ctx, "record submitted",
		"source_id", rec.ID,
		"registry_id", id,
		"decision", outcome.Decision,
	)
	return outcome, nil
}
