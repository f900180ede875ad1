package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server: REDIS_TEST_ADDR=127.0.0.1:6379.
func TestAcquireRelease(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := New(addr, "", 0)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	key := fmt.Sprintf("support:notify:test:%d", time.Now().UnixNano())
	defer s.Release(ctx, key)

	ok, err := s.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, key))
	ok, err = s.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
