package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"regsync/internal/codec"
	ingeststore "regsync/internal/ingest/store"
	ledgermetrics "regsync/internal/ledger/metrics"
	ledgerservice "regsync/internal/ledger/service"
	ledgerstore "regsync/internal/ledger/store"
	"regsync/internal/matching"
	matchingmetrics "regsync/internal/matching/metrics"
	"regsync/internal/pipeline"
	pipelinemetrics "regsync/internal/pipeline/metrics"
	"regsync/internal/platform/config"
	"regsync/internal/platform/database"
	"regsync/internal/platform/redis"
	"regsync/internal/registry"
	"regsync/internal/registry/cache"
	registrymetrics "regsync/internal/registry/metrics"
	"regsync/internal/review"
	"regsync/internal/status"
	"regsync/pkg/platform/circuit"
)

// storage is the database-backed half of the process.
type storage struct {
	db      *sql.DB
	ingest  *ingeststore.PostgresStore
	ledger  *ledgerservice.Service
	cleanup []func()
}

func (s *storage) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// metricSet groups the per-context metrics. Only serve registers them.
type metricSet struct {
	ledger   *ledgermetrics.Metrics
	matching *matchingmetrics.Metrics
	pipeline *pipelinemetrics.Metrics
	registry *registrymetrics.Metrics
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metricSet) (*storage, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s := &storage{
		db:      db,
		ingest:  ingeststore.NewPostgres(db, cfg.Database.SourceTable),
		cleanup: []func(){func() { db.Close() }},
	}

	// Commands that only read (status) run without a codec key.
	if cfg.Codec.Key == "" {
		return s, nil
	}
	key, err := cfg.Codec.KeyBytes()
	if err != nil {
		s.Close()
		return nil, err
	}
	c, err := codec.New(key)
	if err != nil {
		s.Close()
		return nil, err
	}
	opts := []ledgerservice.Option{
		ledgerservice.WithLogger(logger),
		ledgerservice.WithCooldown(cfg.Retry.Cooldown),
	}
	if m != nil {
		opts = append(opts, ledgerservice.WithMetrics(m.ledger))
	}
	s.ledger, err = ledgerservice.New(ledgerstore.NewPostgres(db), c, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// storeCounter counts unsynced ledger entries straight from the store, so
// status works without the codec key.
type storeCounter struct {
	store *ledgerstore.PostgresStore
}

func (c storeCounter) Count(ctx context.Context) (int, error) {
	return c.store.CountFailures(ctx)
}

func (s *storage) failureCounter() status.FailureCounter {
	if s.ledger != nil {
		return s.ledger
	}
	return storeCounter{store: ledgerstore.NewPostgres(s.db)}
}

// processing is the registry-facing half: everything the processor needs.
type processing struct {
	processor *pipeline.Processor
	registry  *registry.Client
	redis     *redis.Client
	kafka     *review.KafkaPublisher
	cleanup   []func()
}

func (p *processing) Close() {
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		p.cleanup[i]()
	}
}

func buildProcessing(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metricSet) (*processing, error) {
	p := &processing{}
	fail := func(err error) (*processing, error) {
		p.Close()
		return nil, err
	}

	tokens, err := registry.NewTokenSource(cfg.Registry.ClientID, cfg.Registry.ClientSecret, cfg.Registry.BaseURL)
	if err != nil {
		return fail(err)
	}
	breaker := circuit.New("registry",
		circuit.WithFailureThreshold(cfg.Registry.FailureThreshold),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(cfg.Registry.BreakerCooldown),
	)
	clientOpts := []registry.Option{
		registry.WithHTTPClient(&http.Client{Timeout: cfg.Registry.Timeout}),
		registry.WithTokenSource(tokens),
		registry.WithBreaker(breaker),
		registry.WithLogger(logger),
	}
	if m != nil {
		clientOpts = append(clientOpts, registry.WithMetrics(m.registry))
	}
	p.registry, err = registry.New(cfg.Registry.BaseURL, clientOpts...)
	if err != nil {
		return fail(err)
	}

	var reg pipeline.Registry = p.registry
	p.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return fail(err)
	}
	if p.redis != nil {
		rc := p.redis
		p.cleanup = append(p.cleanup, func() { rc.Close() })
		cacheOpts := []cache.Option{cache.WithLogger(logger)}
		if m != nil {
			cacheOpts = append(cacheOpts, cache.WithMetrics(m.registry))
		}
		reg = cache.New(p.registry, rc.Client, cfg.Redis.CacheTTL, cacheOpts...)
	}

	var reviews pipeline.ReviewPublisher = review.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		p.kafka, err = review.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ReviewTopic, review.WithLogger(logger))
		if err != nil {
			return fail(err)
		}
		p.cleanup = append(p.cleanup, p.kafka.Close)
		if err := p.kafka.EnsureTopic(ctx, cfg.Kafka.Partitions); err != nil {
			return fail(err)
		}
		reviews = p.kafka
	}

	rules, err := matching.LoadRulesFile(cfg.Matching.RulesPath)
	if err != nil {
		return fail(err)
	}
	engineOpts := []matching.Option{matching.WithLogger(logger)}
	if m != nil {
		engineOpts = append(engineOpts, matching.WithMetrics(m.matching))
	}
	engine, err := matching.NewEngine(rules, engineOpts...)
	if err != nil {
		return fail(err)
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithReviewPublisher(reviews),
	}
	if m != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithMetrics(m.pipeline))
	}
	p.processor, err = pipeline.New(reg, engine, pipelineOpts...)
	if err != nil {
		return fail(err)
	}
	return p, nil
}

// healthChecks lists the checks served on /healthz.
func healthChecks(s *storage, p *processing) []status.Option {
	opts := []status.Option{
		status.WithCheck("database", s.db.PingContext),
		status.WithCheck("registry", p.registry.Health),
		status.WithCheck("registry_breaker", p.registry.BreakerHealth),
	}
	if p.redis != nil {
		opts = append(opts, status.WithCheck("redis", p.redis.Health))
	}
	if p.kafka != nil {
		opts = append(opts, status.WithCheck("kafka", p.kafka.Ping))
	}
	return opts
}
