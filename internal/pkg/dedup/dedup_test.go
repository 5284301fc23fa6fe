package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduplicator(t *testing.T) *Deduplicator {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return NewDeduplicator(rdb, time.Minute)
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	d := newTestDeduplicator(t)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "laptop asus")
	if err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	if dup {
		t.Fatalf("expected first to be non-duplicate")
	}

	dup, err = d.IsDuplicate(ctx, "laptop asus")
	if err != nil {
		t.Fatalf("second dedup: %v", err)
	}
	if !dup {
		t.Fatalf("expected second to be duplicate")
	}
}

func TestDeduplicator_QueryNormalized(t *testing.T) {
	d := newTestDeduplicator(t)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, "Laptop ASUS"); err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	dup, err := d.IsDuplicate(ctx, "  laptop asus  ")
	if err != nil {
		t.Fatalf("second dedup: %v", err)
	}
	if !dup {
		t.Fatalf("expected normalized query to be duplicate")
	}
}

func TestDeduplicator_DeleteResetsWindow(t *testing.T) {
	d := newTestDeduplicator(t)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, "monitor dell"); err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	if err := d.Delete(ctx, "monitor dell"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dup, err := d.IsDuplicate(ctx, "monitor dell")
	if err != nil {
		t.Fatalf("third dedup: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after delete")
	}
}

func TestDeduplicator_NilSafe(t *testing.T) {
	var d *Deduplicator
	dup, err := d.IsDuplicate(context.Background(), "anything")
	if err != nil || dup {
		t.Fatalf("nil deduplicator must report non-duplicate, got dup=%v err=%v", dup, err)
	}
}
