package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(Rule{Key: "t:", Limit: 2, Window: 10 * time.Second})
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, err := l.Allow(ctx, "c1"); !ok || err != nil {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "c1"); ok {
		t.Fatal("third request in the window was allowed")
	}
	if ok, _ := l.Allow(ctx, "c2"); !ok {
		t.Fatal("other identifier should have its own window")
	}
	if n, _ := l.Remaining(ctx, "c1"); n != 0 {
		t.Errorf("Remaining = %d, want 0", n)
	}

	now = now.Add(10 * time.Second)
	if n, _ := l.Remaining(ctx, "c1"); n != 2 {
		t.Errorf("Remaining after window = %d, want 2", n)
	}
	if ok, _ := l.Allow(ctx, "c1"); !ok {
		t.Fatal("request after the window was rejected")
	}
}

func TestDisabledRule(t *testing.T) {
	l := NewMemoryLimiter(Rule{Key: "t:", Limit: 0, Window: time.Second})
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(context.Background(), "c1"); !ok {
			t.Fatalf("request %d rejected with limit 0", i)
		}
	}
}

func TestForProfile(t *testing.T) {
	r := RuleSend.ForProfile("work")
	if r.Key != "rl:send:work:" {
		t.Errorf("Key = %q", r.Key)
	}
	if RuleSend.Key != "rl:send:" {
		t.Errorf("ForProfile modified the base rule: %q", RuleSend.Key)
	}
}

func TestRedisLimiter(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	rule := Rule{Key: "rl:test:" + t.Name() + ":", Limit: 3, Window: time.Minute}
	client.Del(ctx, rule.Key+"c1")
	t.Cleanup(func() {
		client.Del(ctx, rule.Key+"c1")
		client.Close()
	})

	l := NewRedisLimiter(client, rule)
	for i := 0; i < 3; i++ {
		if ok, err := l.Allow(ctx, "c1"); !ok || err != nil {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "c1"); ok {
		t.Fatal("fourth request was allowed")
	}
	if n, err := l.Remaining(ctx, "c1"); err != nil || n != 0 {
		t.Errorf("Remaining = %d, %v", n, err)
	}
	if ttl := client.TTL(ctx, rule.Key+"c1").Val(); ttl <= 0 {
		t.Errorf("window key has no TTL: %v", ttl)
	}
}
