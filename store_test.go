package kpnc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	s := NewFileStore(dir, nil)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(ctx, KeyToken, "tok1"))
	require.NoError(t, s.Set(ctx, KeyUserID, "user-42"))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	other := NewFileStore(dir, nil)
	v, err = other.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok1", v)

	require.NoError(t, other.Set(ctx, KeyToken, ""))
	v, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Empty(t, v, "deletion by another store must be observed")

	v, err = s.Get(ctx, KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "user-42", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrefsFileName), []byte("{not json"), 0o600))

	_, err := NewFileStore(dir, nil).Get(context.Background(), KeyToken)
	assert.ErrorContains(t, err, "parsing prefs")
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore(t *testing.T) {
	seed := map[string]string{KeyUserID: "user-42"}
	s := NewMemoryStore(seed)
	seed[KeyUserID] = "mutated"
	ctx := context.Background()

	v, _ := s.Get(ctx, KeyUserID)
	assert.Equal(t, "user-42", v)

	require.NoError(t, s.Set(ctx, KeyUserID, ""))
	v, _ = s.Get(ctx, KeyUserID)
	assert.Empty(t, v)
}

// ---------------------------------------------------------------------------
// RedisStore
// ---------------------------------------------------------------------------

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	fake := &fakeRedis{values: map[string]string{}}
	s, err := NewRedisStore(fake, DefaultRedisPrefix, nil)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(ctx, KeyToken, "tok1"))
	assert.Equal(t, "tok1", fake.values["kpnc:token"])

	v, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok1", v)

	require.NoError(t, s.Set(ctx, KeyToken, ""))
	assert.NotContains(t, fake.values, "kpnc:token")
}

func TestRedisStore_Errors(t *testing.T) {
	_, err := NewRedisStore(nil, DefaultRedisPrefix, nil)
	assert.Error(t, err)

	fake := &fakeRedis{values: map[string]string{}, err: errors.New("connection reset")}
	s, err := NewRedisStore(fake, DefaultRedisPrefix, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), KeyToken)
	assert.ErrorContains(t, err, "connection reset")
	assert.ErrorContains(t, s.Set(context.Background(), KeyToken, "x"), "connection reset")
}

func TestStoreImplementations(t *testing.T) {
	var _ Store = (*FileStore)(nil)
	var _ Store = (*MemoryStore)(nil)
	var _ Store = (*RedisStore)(nil)
}
