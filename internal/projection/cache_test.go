package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talgya/crossworlds/internal/eventlog"
)

func TestOnEventAppendedBoundsRecentEvents(t *testing.T) {
	c := NewCache(nil)
	c.SetRecentLimit(2)
	ctx := context.Background()

	c.OnEventAppended(ctx, eventlog.Event{Version: 1})
	c.OnEventAppended(ctx, eventlog.Event{Version: 2})
	c.OnEventAppended(ctx, eventlog.Event{Version: 3})

	events := c.RecentEvents()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (bounded by SetRecentLimit)", len(events))
	}
	if events[0].Version != 3 {
		t.Fatalf("events[0].Version = %d, want 3 (newest first)", events[0].Version)
	}
}

func TestSnapshotCachesUntilInvalidated(t *testing.T) {
	c := NewCache(nil)
	calls := 0
	source := func(ctx context.Context) (WorldSnapshot, error) {
		calls++
		return WorldSnapshot{Tick: uint64(calls)}, nil
	}

	snap1, err := c.Snapshot(context.Background(), source)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap2, err := c.Snapshot(context.Background(), source)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls != 1 {
		t.Fatalf("source called %d times, want 1 (cache hit on second call)", calls)
	}
	if snap1.Tick != snap2.Tick {
		t.Fatal("cached snapshot should be identical across calls")
	}

	c.Invalidate()
	snap3, err := c.Snapshot(context.Background(), source)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls != 2 {
		t.Fatalf("source called %d times, want 2 (rebuilt after Invalidate)", calls)
	}
	if snap3.Tick == snap1.Tick {
		t.Fatal("rebuilt snapshot should reflect the new source call")
	}
}

func TestSnapshotPropagatesSourceError(t *testing.T) {
	c := NewCache(nil)
	wantErr := errors.New("boom")
	_, err := c.Snapshot(context.Background(), func(ctx context.Context) (WorldSnapshot, error) {
		return WorldSnapshot{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestClearResetsEventsAndSnapshot(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()
	c.OnEventAppended(ctx, eventlog.Event{Version: 1})
	_, _ = c.Snapshot(ctx, func(ctx context.Context) (WorldSnapshot, error) { return WorldSnapshot{Tick: 1}, nil })

	c.Clear(ctx)

	if len(c.RecentEvents()) != 0 {
		t.Fatal("expected no recent events after Clear")
	}
	calls := 0
	_, _ = c.Snapshot(ctx, func(ctx context.Context) (WorldSnapshot, error) {
		calls++
		return WorldSnapshot{}, nil
	})
	if calls != 1 {
		t.Fatal("expected Clear to invalidate the cached snapshot, forcing a rebuild")
	}
}

// TestLLMResponseCacheReusesWithoutRedis mirrors spec.md §8 scenario 6: a
// response cached for one (policyType, fingerprint) pair must be reusable
// even in a single-process deployment with no Redis configured.
func TestLLMResponseCacheReusesWithoutRedis(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()

	if err := c.PutLLMResponse(ctx, "forager", "fp", []byte(`{"action":"gather"}`)); err != nil {
		t.Fatalf("PutLLMResponse: %v", err)
	}
	got, ok := c.GetLLMResponse(ctx, "forager", "fp")
	if !ok {
		t.Fatal("expected a cache hit for the same policyType/fingerprint without redis")
	}
	if string(got) != `{"action":"gather"}` {
		t.Fatalf("got %s, want the cached body back verbatim", got)
	}

	if _, ok := c.GetLLMResponse(ctx, "forager", "other-fp"); ok {
		t.Fatal("a different fingerprint should still miss")
	}
}

func TestGenesisCacheReusesWithoutRedis(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()

	if err := c.PutGenesisResult(ctx, "genesis-cache", "seed-1", time.Hour, []byte("roster")); err != nil {
		t.Fatalf("PutGenesisResult: %v", err)
	}
	got, ok := c.GetGenesisResult(ctx, "genesis-cache", "seed-1")
	if !ok || string(got) != "roster" {
		t.Fatalf("expected cached genesis result, got %s, ok=%v", got, ok)
	}
}
