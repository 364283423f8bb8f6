package triage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/triage"
	"github.com/linnemanlabs/hyperstream/internal/triage/memstore"
)

func seedAlert(t *testing.T, s triage.Store, sensor string, ts int64) alert.Identity {
	t.Helper()
	a, err := alert.New(alert.Input{SensorID: sensor, TS: ts, Severity: 3})
	if err != nil {
		t.Fatalf("alert.New: %v", err)
	}
	if err := s.Put(context.Background(), a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return a.Identity()
}

// fakeClock is a mutable time source safe for concurrent reads.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCoordinator_ClaimAndLabel(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	cl, err := c.Claim(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if cl.Reviewer != "alice" {
		t.Errorf("Reviewer = %q, want alice", cl.Reviewer)
	}
	if cl.ID == "" {
		t.Error("expected a claim id")
	}
	if got, _, _ := s.Get(ctx, id); got.ReviewState != alert.StateClaimed {
		t.Errorf("stored state = %q, want claimed", got.ReviewState)
	}

	a, err := c.Label(ctx, id, "alice", "benign")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if a.ReviewState != alert.StateLabeled || a.Label != "benign" {
		t.Errorf("got state=%q label=%q, want labeled/benign", a.ReviewState, a.Label)
	}
	if _, ok := c.ActiveClaim(id); ok {
		t.Error("claim should be dropped after label")
	}
}

func TestCoordinator_ClaimMutualExclusion(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim alice: %v", err)
	}
	if _, err := c.Claim(ctx, id, "bob"); !errors.Is(err, triage.ErrAlreadyClaimed) {
		t.Fatalf("Claim bob err = %v, want ErrAlreadyClaimed", err)
	}
	// Re-claiming by the holder is also rejected; the claim is not renewable.
	if _, err := c.Claim(ctx, id, "alice"); !errors.Is(err, triage.ErrAlreadyClaimed) {
		t.Fatalf("Claim alice again err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestCoordinator_ConcurrentClaimSingleWinner(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	const n = 32
	var won atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			reviewer := string(rune('a' + i%26))
			if _, err := c.Claim(ctx, id, reviewer); err == nil {
				won.Add(1)
			} else if !errors.Is(err, triage.ErrAlreadyClaimed) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", won.Load())
	}
}

func TestCoordinator_ClaimExpiry(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	clk := newFakeClock()
	c := triage.NewCoordinator(s, nil, triage.WithClock(clk.Now))
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	first, err := c.Claim(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	clk.Advance(triage.DefaultClaimTTL + time.Second)

	// Expired claim no longer blocks a new reviewer.
	second, err := c.Claim(ctx, id, "bob")
	if err != nil {
		t.Fatalf("Claim after expiry: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a fresh claim id")
	}

	// Alice's expired claim no longer authorizes resolution.
	if _, err := c.Label(ctx, id, "alice", "benign"); !errors.Is(err, triage.ErrNotClaimOwner) {
		t.Fatalf("Label by expired holder err = %v, want ErrNotClaimOwner", err)
	}
	if _, err := c.Label(ctx, id, "bob", "benign"); err != nil {
		t.Fatalf("Label by holder: %v", err)
	}
}

func TestCoordinator_CustomTTL(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	clk := newFakeClock()
	c := triage.NewCoordinator(s, nil, triage.WithClock(clk.Now), triage.WithClaimTTL(10*time.Second))
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	clk.Advance(9 * time.Second)
	if _, ok := c.ActiveClaim(id); !ok {
		t.Error("claim should still be active before TTL")
	}
	clk.Advance(2 * time.Second)
	if _, ok := c.ActiveClaim(id); ok {
		t.Error("claim should have expired")
	}
}

func TestCoordinator_ResolveGuards(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Label(ctx, id, "alice", "benign"); !errors.Is(err, triage.ErrNoActiveClaim) {
		t.Fatalf("Label without claim err = %v, want ErrNoActiveClaim", err)
	}
	if _, err := c.Dismiss(ctx, id, "alice"); !errors.Is(err, triage.ErrNoActiveClaim) {
		t.Fatalf("Dismiss without claim err = %v, want ErrNoActiveClaim", err)
	}

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := c.Label(ctx, id, "bob", "benign"); !errors.Is(err, triage.ErrNotClaimOwner) {
		t.Fatalf("Label by non-owner err = %v, want ErrNotClaimOwner", err)
	}
	if _, err := c.Dismiss(ctx, id, "bob"); !errors.Is(err, triage.ErrNotClaimOwner) {
		t.Fatalf("Dismiss by non-owner err = %v, want ErrNotClaimOwner", err)
	}

	var verr *alert.ValidationError
	if _, err := c.Label(ctx, id, "alice", ""); !errors.As(err, &verr) {
		t.Fatalf("Label empty err = %v, want ValidationError", err)
	}
}

func TestCoordinator_ClaimTerminal(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := c.Dismiss(ctx, id, "alice"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if _, err := c.Claim(ctx, id, "bob"); !errors.Is(err, triage.ErrTerminal) {
		t.Fatalf("Claim terminal err = %v, want ErrTerminal", err)
	}
}

func TestCoordinator_ClaimUnknownAndEmptyReviewer(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()

	if _, err := c.Claim(ctx, alert.Identity{SensorID: "nope", TS: 1}, "alice"); !errors.Is(err, triage.ErrNotFound) {
		t.Fatalf("Claim unknown err = %v, want ErrNotFound", err)
	}
	var verr *alert.ValidationError
	if _, err := c.Claim(ctx, alert.Identity{SensorID: "x", TS: 1}, ""); !errors.As(err, &verr) {
		t.Fatalf("Claim empty reviewer err = %v, want ValidationError", err)
	}
}

func TestCoordinator_Release(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := c.Release(ctx, id, "bob"); !errors.Is(err, triage.ErrNotClaimOwner) {
		t.Fatalf("Release by non-owner err = %v, want ErrNotClaimOwner", err)
	}

	a, err := c.Release(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.ReviewState != alert.StateOpen {
		t.Errorf("state = %q, want open", a.ReviewState)
	}
	if _, ok := c.ActiveClaim(id); ok {
		t.Error("claim should be gone after release")
	}

	// Releasing an open alert has nothing to release.
	if _, err := c.Release(ctx, id, "alice"); !errors.Is(err, triage.ErrNoActiveClaim) {
		t.Fatalf("Release open err = %v, want ErrNoActiveClaim", err)
	}
}

func TestCoordinator_ReleaseStaleClaimedState(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	clk := newFakeClock()
	c := triage.NewCoordinator(s, nil, triage.WithClock(clk.Now))
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	clk.Advance(triage.DefaultClaimTTL + time.Second)

	// The stored state is still claimed but the in-memory claim expired;
	// anyone may return it to open.
	a, err := c.Release(ctx, id, "bob")
	if err != nil {
		t.Fatalf("Release stale: %v", err)
	}
	if a.ReviewState != alert.StateOpen {
		t.Errorf("state = %q, want open", a.ReviewState)
	}
}

func TestCoordinator_Reopen(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	c := triage.NewCoordinator(s, nil)
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Reopen(ctx, id); !errors.Is(err, triage.ErrNotTerminal) {
		t.Fatalf("Reopen open err = %v, want ErrNotTerminal", err)
	}

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := c.Label(ctx, id, "alice", "benign"); err != nil {
		t.Fatalf("Label: %v", err)
	}

	a, err := c.Reopen(ctx, id)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if a.ReviewState != alert.StateOpen {
		t.Errorf("state = %q, want open", a.ReviewState)
	}
	if a.Label != "" {
		t.Errorf("Label = %q, want cleared", a.Label)
	}

	// Reopened alerts are claimable again.
	if _, err := c.Claim(ctx, id, "bob"); err != nil {
		t.Fatalf("Claim after reopen: %v", err)
	}
}

func TestCoordinator_Sweeper(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	clk := newFakeClock()
	c := triage.NewCoordinator(s, nil, triage.WithClock(clk.Now))
	ctx := context.Background()
	id := seedAlert(t, s, "ch_001", 100)

	if _, err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	clk.Advance(triage.DefaultClaimTTL + time.Second)

	stop := c.StartSweeper(ctx, time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		a, _, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if a.ReviewState == alert.StateOpen {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never returned alert to open, state = %q", a.ReviewState)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_SweeperDisabled(t *testing.T) {
	t.Parallel()

	c := triage.NewCoordinator(memstore.New(), nil)
	stop := c.StartSweeper(context.Background(), 0)
	stop() // must be a safe no-op
}
