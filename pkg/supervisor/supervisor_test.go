package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupPropagatesFirstError(t *testing.T) {
	grp, ctx := New(context.Background(), nil)

	boom := errors.New("boom")
	grp.Go("failing", func(ctx context.Context) error {
		return boom
	})
	grp.Go("cooperative", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := grp.Wait(); err != boom {
		t.Fatalf("expected Wait to surface the first error, got %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected the shared context to be cancelled after a loop failed")
	}
}

func TestHeartbeatStaleness(t *testing.T) {
	hb := NewHeartbeat(1234, 1_000)
	if hb.Stale(1_500, 1*time.Second) {
		t.Fatal("heartbeat should not be stale within the timeout window")
	}
	if !hb.Stale(5_000, 1*time.Second) {
		t.Fatal("heartbeat should be stale once the timeout has elapsed")
	}
	hb.Beat(4_900)
	if hb.Stale(5_000, 1*time.Second) {
		t.Fatal("a recent Beat should clear staleness")
	}
}
