//go:build integration

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/offer-pipeline/internal/testutil"
	"github.com/Sternrassler/offer-pipeline/pkg/audit"
	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_AuditStreamPerAttempt(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPartition("A1234", &testutil.Partition{
		Total:    320,
		Statuses: []int{http.StatusServiceUnavailable},
	})

	tokens, err := auth.NewTokenManager(auth.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		TokenURL:     mock.TokenURL(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.DefaultMinInterval, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}

	sink := audit.NewRedisSink(redisClient, "it:audit", zerolog.Nop())
	cfg := DefaultConfig(mock.SearchURL())
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 50 * time.Millisecond

	fetcher, err := New(cfg, tokens, limiter, sink, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := audit.WithRunID(context.Background(), "run-it")
	for _, offset := range []int{0, 150, 300} {
		if _, err := fetcher.Fetch(ctx, "A1234", Window{Offset: offset, Limit: DefaultPageSize}); err != nil {
			t.Fatalf("Fetch(offset=%d) error = %v", offset, err)
		}
	}

	msgs, err := redisClient.XRange(ctx, "it:audit", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}

	// one 503 retry plus three successful windows
	if len(msgs) != 4 {
		t.Fatalf("stream length = %d, want 4", len(msgs))
	}
	if msgs[0].Values["status"] != "503" {
		t.Errorf("first status = %v, want 503", msgs[0].Values["status"])
	}
	for _, msg := range msgs {
		if msg.Values["run_id"] != "run-it" {
			t.Errorf("run_id = %v, want run-it", msg.Values["run_id"])
		}
		if msg.Values["partition"] != "A1234" {
			t.Errorf("partition = %v, want A1234", msg.Values["partition"])
		}
	}
	if msgs[3].Values["returned"] != "20" {
		t.Errorf("last page returned = %v, want 20", msgs[3].Values["returned"])
	}
}

func TestIntegration_SharedLimiterSpacing(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPartition("A1234", &testutil.Partition{Total: 10})
	mock.SetPartition("B5678", &testutil.Partition{Total: 10})

	tokens, _ := auth.NewTokenManager(auth.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		TokenURL:     mock.TokenURL(),
	}, zerolog.Nop())
	limiter, _ := ratelimit.NewLimiter(50*time.Millisecond, zerolog.Nop())
	fetcher, err := New(DefaultConfig(mock.SearchURL()), tokens, limiter, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 4)
	for _, code := range []string{"A1234", "B5678", "A1234", "B5678"} {
		go func(code string) {
			_, err := fetcher.Fetch(context.Background(), code, Window{Offset: 0, Limit: DefaultPageSize})
			done <- err
		}(code)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	searches := mock.Searches()
	if len(searches) != 4 {
		t.Fatalf("searches = %d, want 4", len(searches))
	}
	// arrival order equals dispatch order for a serialized limiter
	for i := 1; i < len(searches); i++ {
		gap := searches[i].At.Sub(searches[i-1].At)
		if gap < 40*time.Millisecond {
			t.Errorf("gap %d = %v, want >= ~50ms", i, gap)
		}
	}
}
