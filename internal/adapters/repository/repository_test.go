package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwoot-relay/internal/core/domain"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)

	require.Len(t, stmts, 5)
	for _, stmt := range stmts {
		assert.Contains(t, stmt, "CREATE TABLE IF NOT EXISTS")
	}
	assert.Empty(t, splitStatements(" ;\n ; "))
}

func TestMergeTags(t *testing.T) {
	current := domain.Tags{"chatwootId": "12", "name": "Ana"}

	merged, changed := mergeTags(current, domain.Tags{"name": "Ana", "email": ""})
	assert.False(t, changed)
	assert.Equal(t, current, merged)

	merged, changed = mergeTags(current, domain.Tags{"email": "ana@example.com", "name": ""})
	assert.True(t, changed)
	assert.Equal(t, domain.Tags{"chatwootId": "12", "name": "Ana", "email": "ana@example.com"}, merged)
	assert.NotContains(t, current, "email", "current tags must not be mutated")
}

func TestTagsCodec(t *testing.T) {
	raw, err := encodeTags(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	raw, err = encodeTags(domain.Tags{"chatwootId": "7"})
	require.NoError(t, err)
	tags, err := decodeTags(raw)
	require.NoError(t, err)
	assert.Equal(t, "7", tags.Get("chatwootId"))

	tags, err = decodeTags(nil)
	require.NoError(t, err)
	assert.NotNil(t, tags)

	_, err = decodeTags([]byte(`["not", "a", "map"]`))
	assert.Error(t, err)
}

func TestIsDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

	assert.True(t, isDuplicateEntry(dup))
	assert.True(t, isDuplicateEntry(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isDuplicateEntry(&mysql.MySQLError{Number: 1146}))
	assert.False(t, isDuplicateEntry(errors.New("boom")))
	assert.False(t, isDuplicateEntry(nil))
}

func TestBuildDedupKey(t *testing.T) {
	assert.Equal(t, "dedup:chatwoot:msg:4711", buildDedupKey("4711"))
}

func TestSchema_MessagesUniquePerChatwootID(t *testing.T) {
	assert.Contains(t, schemaSQL, "UNIQUE KEY uq_messages_chatwoot (direction, chatwoot_id)")
}

func TestPurgeQuery(t *testing.T) {
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	query, args := purgeQuery(cutoff, 1000)

	assert.Contains(t, query, "WHERE status IN (?, ?) AND created_at < ?")
	assert.Contains(t, query, "LIMIT ?")
	assert.Equal(t, []any{domain.WebhookStatusProcessed, domain.WebhookStatusSkipped, cutoff, 1000}, args)
	assert.NotContains(t, args, domain.WebhookStatusFailed)
}

// fakeDedupClient keeps keys in memory with SET NX semantics
type fakeDedupClient struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeDedupClient() *fakeDedupClient {
	return &fakeDedupClient{keys: make(map[string]time.Duration)}
}

func (f *fakeDedupClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeDedupClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeDedupClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedisRepository_ClaimAndRelease(t *testing.T) {
	fake := newFakeDedupClient()
	repo := &RedisRepository{client: fake}
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, "4711", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, time.Hour, fake.keys["dedup:chatwoot:msg:4711"])

	claimed, err = repo.Claim(ctx, "4711", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "second delivery must see the claim")

	require.NoError(t, repo.Release(ctx, "4711"))
	claimed, err = repo.Claim(ctx, "4711", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "released id can be claimed again")
}

func TestRedisRepository_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	repo := &RedisRepository{client: newFakeDedupClient()}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(context.Background(), "99", time.Minute)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestRedisRepository_Errors(t *testing.T) {
	fake := newFakeDedupClient()
	fake.err = errors.New("connection refused")
	repo := &RedisRepository{client: fake}

	claimed, err := repo.Claim(context.Background(), "1", time.Minute)
	assert.False(t, claimed)
	assert.EqualError(t, err, "claim event: connection refused")

	assert.EqualError(t, repo.Release(context.Background(), "1"), "release event: connection refused")
	assert.Error(t, repo.Ping(context.Background()))
}
