package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/card-lobby/config"
	"go.uber.org/zap"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{Host: mr.Host(), Port: mr.Port()}
	client, err := Connect(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value = %q, want v", got)
	}
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.RedisConfig{Host: "127.0.0.1", Port: "1"}
	if _, err := Connect(ctx, cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
