package hold

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ms-boxoffice/internal/logger"
)

// TestRedisStoreIntegration runs the hold contract against a real Redis
// container. miniredis covers the fast path; this catches script
// behavior differences against the real server.
func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	store := NewRedisStore(client, testHoldConfig(), logger.Discard())

	res, err := store.Acquire(ctx, AcquireParams{
		Tenant: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A1", "A2", "A3"}, Owner: "sess-1", Version: 1,
		TTL: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = store.Acquire(ctx, AcquireParams{
		Tenant: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A3", "A4"}, Owner: "sess-2", Version: 1,
		TTL: time.Minute,
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{"A3"}, res.Conflicts)

	applied, err := store.Release(ctx, ReleaseParams{
		Tenant: "t1", PerformanceID: "perf-1", SeatID: "A3",
		Owner: "sess-1", Version: 1,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	res, err = store.Acquire(ctx, AcquireParams{
		Tenant: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A3", "A4"}, Owner: "sess-2", Version: 1,
		TTL: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
}
