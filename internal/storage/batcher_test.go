package storage

import (
	"context"
	"testing"
)

func TestBatcher(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()
	b := NewBatcher(repo, "tm_candidates", []string{"event_id", "record_id"}, 3)

	for i := 0; i < 7; i++ {
		if err := b.Add(ctx, []any{int64(0), int32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if b.Pending() != 1 || b.Batches() != 2 || b.Total() != 6 {
		t.Fatalf("before flush: pending=%d batches=%d total=%d", b.Pending(), b.Batches(), b.Total())
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(repo.copies["tm_candidates"]); got != 7 || b.Total() != 7 {
		t.Fatalf("copied %d rows, total %d", got, b.Total())
	}
	if err := b.Flush(ctx); err != nil || b.Batches() != 3 {
		t.Fatalf("empty flush: err=%v batches=%d", err, b.Batches())
	}

	if err := b.Add(ctx, []any{1}); err == nil {
		t.Fatal("short row must be rejected")
	}
}

func TestBatcher_CopyError(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.failOn = 1
	b := NewBatcher(repo, "tm_events", []string{"event_id"}, 2)
	_ = b.Add(context.Background(), []any{1})
	if err := b.Add(context.Background(), []any{2}); err == nil {
		t.Fatal("expected copy error")
	}
	if b.Pending() != 0 {
		t.Fatalf("failed batch must be discarded, pending=%d", b.Pending())
	}
}
