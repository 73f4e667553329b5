//go:build integration

package redisstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var testRedisURL string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

// setupRegistry uses a fresh key per test so tests never share state
func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(testRedisURL, "", "test:connections:"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = reg.client.Del(context.Background(), reg.key).Err()
		_ = reg.Close()
	})
	return reg
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "a"))
	require.NoError(t, reg.Register(ctx, "a"))
	require.NoError(t, reg.Register(ctx, "b"))

	n, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, reg.Unregister(ctx, "a"))
	require.NoError(t, reg.Unregister(ctx, "a"))

	ids, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestRegistry_SnapshotSpansScanBatches(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	want := make([]string, 0, 3*scanBatch)
	for i := 0; i < 3*scanBatch; i++ {
		id := fmt.Sprintf("conn-%04d", i)
		want = append(want, id)
		require.NoError(t, reg.Register(ctx, id))
	}

	ids, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, want, ids)
}

func TestNewRegistry_Unreachable(t *testing.T) {
	_, err := NewRegistry("redis://127.0.0.1:1", "", "x")
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
