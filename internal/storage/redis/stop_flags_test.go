package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{keys: make(map[string]time.Duration)}
}

func (f *fakeClient) Set(_ context.Context, key string, _ any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Close() error { return nil }

func TestStopFlagsLifecycle(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	flags := newWithClient(fc, Config{Prefix: "test:", TTL: time.Hour})
	ctx := context.Background()

	raised, err := flags.Raised(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, raised)

	require.NoError(t, flags.Raise(ctx, "job-1"))
	require.Equal(t, time.Hour, fc.keys["test:job-1"])

	raised, err = flags.Raised(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, raised)

	require.NoError(t, flags.Clear(ctx, "job-1"))
	raised, err = flags.Raised(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, raised)
	require.NoError(t, flags.Close())
}

func TestStopFlagsDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	flags := newWithClient(fc, Config{})
	require.NoError(t, flags.Raise(context.Background(), "job-2"))
	require.Equal(t, 24*time.Hour, fc.keys[DefaultPrefix+"job-2"])

	fc.err = errors.New("connection refused")
	require.ErrorContains(t, flags.Raise(context.Background(), "job-3"), "connection refused")
	_, err := flags.Raised(context.Background(), "job-3")
	require.Error(t, err)

	_, err = New(Config{})
	require.Error(t, err)
}
