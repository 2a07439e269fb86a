//go:build integration

package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"regsync/internal/entity"
	"regsync/internal/registry"
	"regsync/internal/registry/cache"
	"regsync/pkg/testutil/containers"
)

type CachedRegistrySuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	upstream *fakeRegistry
	cached   *cache.CachedRegistry
}

func TestCachedRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedRegistrySuite))
}

func (s *CachedRegistrySuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CachedRegistrySuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.upstream = &fakeRegistry{persons: []entity.Person{{ID: "p-1", BirthDate: "1990-02-03"}}}
	s.cached = cache.New(s.upstream, s.redis.Client.Client, time.Minute)
}

func (s *CachedRegistrySuite) TestRepeatSearchIsServedFromCache() {
	ctx := context.Background()
	params := registry.SearchParams{
		Identifier: entity.Identifier{System: entity.SystemNationalID, Value: "NID-1"},
		BirthDate:  "1990-02-03",
	}

	first, err := s.cached.Search(ctx, params)
	s.Require().NoError(err)
	second, err := s.cached.Search(ctx, params)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, s.upstream.searchCount())

	ttl, err := s.redis.Client.TTL(ctx, cache.Key(params)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *CachedRegistrySuite) TestSubmitInvalidatesAffectedSearches() {
	ctx := context.Background()
	person := &entity.Person{
		BirthDate:   "1990-02-03",
		Identifiers: []entity.Identifier{{System: entity.SystemNationalID, Value: "NID-1"}},
	}
	params := registry.ParamsFor(person)

	_, err := s.cached.Search(ctx, params)
	s.Require().NoError(err)
	_, err = s.cached.Submit(ctx, person)
	s.Require().NoError(err)
	_, err = s.cached.Search(ctx, params)
	s.Require().NoError(err)

	s.Equal(2, s.upstream.searchCount())
}

func (s *CachedRegistrySuite) TestKeysDoNotContainIdentifiers() {
	key := cache.Key(registry.SearchParams{Identifier: entity.Identifier{Value: "NID-SECRET"}})
	s.NotContains(key, "NID-SECRET")
}

type fakeRegistry struct {
	mu       sync.Mutex
	searches int
	persons  []entity.Person
}

func (f *fakeRegistry) Search(context.Context, registry.SearchParams) ([]entity.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.persons, nil
}

func (f *fakeRegistry) Submit(context.Context, *entity.Person) (string, error) {
	return "p-1", nil
}

func (f *fakeRegistry) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}
