// Package redistest starts a throwaway Redis for integration tests.
package redistest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Image is the server image used by Start.
const Image = "redis:7.4-alpine"

var queueSeq atomic.Int64

// Start runs a Redis container for the test and returns a client. The
// container is terminated when the test ends.
func Start(t *testing.T) *goredis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := redismodule.Run(ctx,
		Image,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url %q: %v", uri, err)
	}

	client := goredis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}

// QueueName returns a queue name unique within the test binary.
func QueueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("q%d", queueSeq.Add(1))
}
