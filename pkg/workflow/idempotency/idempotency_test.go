package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, time.Minute)
}

func TestClaimFirstCallerWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}
}

func TestClaimRetryReturnsOriginalInstance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-1"); err != nil || !claimed {
		t.Fatalf("first Claim: claimed=%v err=%v", claimed, err)
	}

	existing, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-2")
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim with the same key to be rejected")
	}
	if existing != "instance-1" {
		t.Fatalf("expected existing instance-1, got %q", existing)
	}
}

func TestClaimIsScopedPerOrganization(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-1"); err != nil || !claimed {
		t.Fatalf("org-1 Claim: claimed=%v err=%v", claimed, err)
	}
	if _, claimed, err := store.Claim(ctx, "org-2", "key-1", "instance-2"); err != nil || !claimed {
		t.Fatalf("expected a different organization to independently claim the same key, claimed=%v err=%v", claimed, err)
	}
}

func TestReleaseAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-1"); err != nil || !claimed {
		t.Fatalf("first Claim: claimed=%v err=%v", claimed, err)
	}
	if err := store.Release(ctx, "org-1", "key-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-2"); err != nil || !claimed {
		t.Fatalf("expected reclaim after release to succeed, claimed=%v err=%v", claimed, err)
	}
}

func TestClaimWithoutRedisAlwaysSucceeds(t *testing.T) {
	ctx := context.Background()
	store := New(nil, time.Minute)

	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-1"); err != nil || !claimed {
		t.Fatalf("claimed=%v err=%v", claimed, err)
	}
	if _, claimed, err := store.Claim(ctx, "org-1", "key-1", "instance-2"); err != nil || !claimed {
		t.Fatalf("expected no dedup without a Redis backend, claimed=%v err=%v", claimed, err)
	}
}
