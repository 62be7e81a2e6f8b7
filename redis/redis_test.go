package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

var _ wallet.SessionCache = (*SessionCache)(nil)

type sessionCacheSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	rdb   *goredis.Client
	cache *SessionCache
	ctx   context.Context
}

func TestSessionCacheSuite(t *testing.T) {
	suite.Run(t, new(sessionCacheSuite))
}

func (s *sessionCacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.mr = miniredis.RunT(s.T())
	rdb, err := NewClient(s.ctx, Config{Host: s.mr.Host(), Port: s.mr.Port()})
	s.Require().NoError(err)
	s.rdb = rdb
	s.cache = NewSessionCache(rdb, "", time.Hour)
}

func (s *sessionCacheSuite) TearDownTest() {
	_ = s.rdb.Close()
}

func (s *sessionCacheSuite) TestRoundTrip() {
	_, ok, err := s.cache.Cached(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Remember(s.ctx, "injected"))
	id, ok, err := s.cache.Cached(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("injected", id)
	s.Equal(time.Hour, s.mr.TTL(DefaultSessionKey))

	s.Require().NoError(s.cache.Forget(s.ctx))
	_, ok, err = s.cache.Cached(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	// forgetting twice is fine
	s.NoError(s.cache.Forget(s.ctx))
}

func (s *sessionCacheSuite) TestExpires() {
	s.Require().NoError(s.cache.Remember(s.ctx, "injected"))
	s.mr.FastForward(2 * time.Hour)

	_, ok, err := s.cache.Cached(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *sessionCacheSuite) TestCustomKeyWithoutTTL() {
	cache := NewSessionCache(s.rdb, "app:wallet", 0)
	s.Require().NoError(cache.Remember(s.ctx, "node"))

	got, err := s.mr.Get("app:wallet")
	s.Require().NoError(err)
	s.Equal("node", got)
	s.Zero(s.mr.TTL("app:wallet"))
}

func (s *sessionCacheSuite) TestRejectsEmptyID() {
	s.Error(s.cache.Remember(s.ctx, ""))
}

func (s *sessionCacheSuite) TestReadError() {
	s.mr.SetError("LOADING")
	_, _, err := s.cache.Cached(s.ctx)
	s.Error(err)
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, Config{Host: host, Port: port, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
