//go:build integration

package signedcode

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisSecrets(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	secrets := NewRedisSecrets(client, "test:code:"+uuid.NewString()+":")

	if s, err := secrets.LiveSecret(ctx, "sess-1"); err != nil || s != "" {
		t.Fatalf("expected empty slot, got %q, %v", s, err)
	}
	if err := secrets.SetLiveSecret(ctx, "sess-1", "one", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := secrets.SetLiveSecret(ctx, "sess-1", "two", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if s, _ := secrets.LiveSecret(ctx, "sess-1"); s != "two" {
		t.Errorf("expected rotated secret, got %q", s)
	}
}
