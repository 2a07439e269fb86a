// Package review publishes potential matches that need a human decision.
package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"regsync/internal/matching"
)

// Event is a potential match queued for manual review. It carries ids and
// scores only, never natural keys or payloads.
type Event struct {
	ID          uuid.UUID           `json:"id"`
	SourceID    string              `json:"source_id"`
	CandidateID string              `json:"candidate_id"`
	SubmittedID string              `json:"submitted_id,omitempty"`
	Rule        string              `json:"rule"`
	Score       float64             `json:"score"`
	PerField    map[string]float64  `json:"per_field"`
	Level       matching.MatchLevel `json:"level"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// NewEvent builds a review event from a match result.
func NewEvent(sourceID string, result matching.Result, at time.Time) Event {
	return Event{
		ID:          uuid.New(),
		SourceID:    sourceID,
		CandidateID: result.Candidate.ID,
		Rule:        result.Score.Rule,
		Score:       result.Score.Total,
		PerField:    result.Score.PerField,
		Level:       result.Score.Level,
		OccurredAt:  at,
	}
}

// LogPublisher writes review events to the structured log. Used when no
// Kafka brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "potential match requires review",
		"review_id", event.ID,
		"source_id", event.SourceID,
		"candidate_id", event.CandidateID,
		"rule", event.Rule,
		"score", event.Score,
	)
	return nil
}

func (p *LogPublisher) Close() {}
