package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderSetNXHonoursExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := NewMemoryProvider()
	p.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "sentinel:cycle:api", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = p.SetNX(ctx, "sentinel:cycle:api", []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX should lose: ok=%v err=%v", ok, err)
	}

	now = now.Add(time.Minute)
	ok, err = p.SetNX(ctx, "sentinel:cycle:api", []byte("c"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry: ok=%v err=%v", ok, err)
	}
	got, err := p.Get(ctx, "sentinel:cycle:api")
	if err != nil || string(got) != "c" {
		t.Fatalf("unexpected value %q err=%v", got, err)
	}
}

func TestMemoryProviderGetMissAndDelete(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if err := p.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderReturnsCopies(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	value := []byte("deadline")
	_ = p.Set(ctx, "k", value, 0)
	value[0] = 'X'

	got, _ := p.Get(ctx, "k")
	if string(got) != "deadline" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}

func TestKey(t *testing.T) {
	if got := Key("sentinel", "cooldown", "api"); got != "sentinel:cooldown:api" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("", "cycle", "api"); got != "cycle:api" {
		t.Fatalf("unexpected key without prefix %q", got)
	}
}

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	if _, err := NewRedisProvider(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}
