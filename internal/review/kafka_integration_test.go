//go:build integration

package review_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"regsync/internal/matching"
	"regsync/internal/review"
	"regsync/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	publisher *review.KafkaPublisher
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	p, err := review.NewKafkaPublisher(s.redpanda.Brokers, "regsync.review.test")
	s.Require().NoError(err)
	s.publisher = p

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(s.publisher.EnsureTopic(ctx, 1))
	s.Require().NoError(s.publisher.EnsureTopic(ctx, 1), "existing topic is not an error")
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	s.publisher.Close()
}

func (s *KafkaPublisherSuite) TestPublishedEventIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := review.Event{
		SourceID:    "src-42",
		CandidateID: "p-7",
		Rule:        "demographics",
		Score:       16,
		Level:       matching.LevelPotentialMatch,
		OccurredAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.publisher.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics("regsync.review.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got review.Event
	var key string
	for key == "" {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == "src-42" {
				key = string(r.Key)
				s.Require().NoError(json.Unmarshal(r.Value, &got))
			}
		})
	}

	s.Equal("p-7", got.CandidateID)
	s.Equal(matching.LevelPotentialMatch, got.Level)
	s.Equal(16.0, got.Score)
}
