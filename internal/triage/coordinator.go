package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/oklog/ulid/v2"
)

// DefaultClaimTTL is how long a claim stays valid without being resolved.
const DefaultClaimTTL = 5 * time.Minute

// Claim is an exclusive, time-bounded right for one reviewer to mutate an
// alert's review state. Claims live in memory only: a restart releases all
// of them, which is equivalent to immediate expiry.
type Claim struct {
	ID        string    `json:"claim_id"`
	SensorID  string    `json:"sensor_id"`
	TS        int64     `json:"ts"`
	Reviewer  string    `json:"reviewer"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity returns the claimed alert's identity.
func (c *Claim) Identity() alert.Identity {
	return alert.Identity{SensorID: c.SensorID, TS: c.TS}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClaimTTL sets the claim expiry duration.
func WithClaimTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMetrics attaches domain metrics to the coordinator.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock replaces the time source. Used by tests to drive expiry.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator manages the per-alert review state machine:
// open -> claimed -> labeled/dismissed, with release and expiry returning the
// alert to open. All alert mutations go through the Store's update contract;
// the coordinator only holds the non-owning claim references. Operations on
// the same identity are serialized; different identities never contend.
type Coordinator struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
	ttl     time.Duration
	now     func() time.Time

	locks identityLocks

	mu     sync.Mutex
	claims map[alert.Identity]*Claim
}

// NewCoordinator creates a claim coordinator over the given store.
func NewCoordinator(store Store, logger log.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Coordinator{
		store:  store,
		logger: logger,
		ttl:    DefaultClaimTTL,
		now:    time.Now,
		claims: make(map[alert.Identity]*Claim),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim grants reviewer an exclusive claim on the alert. It fails with
// ErrAlreadyClaimed while another unexpired claim exists, ErrNotFound for an
// unknown identity, and ErrTerminal once the review is finalized. A stored
// claimed state with no live claim (expiry or restart) is taken over.
func (c *Coordinator) Claim(ctx context.Context, id alert.Identity, reviewer string) (*Claim, error) {
	if reviewer == "" {
		return nil, &alert.ValidationError{Field: "reviewer", Reason: "must be non-empty"}
	}

	unlock := c.locks.lock(id)
	defer unlock()

	now := c.now()
	if cur := c.active(id, now); cur != nil {
		c.countClaim("already_claimed")
		return nil, ErrAlreadyClaimed
	}

	a, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if a.ReviewState.Terminal() {
		c.countClaim("terminal")
		return nil, ErrTerminal
	}

	if a.ReviewState != alert.StateClaimed {
		if _, err := c.store.Update(ctx, id, Mutation{ReviewState: alert.StateClaimed}); err != nil {
			return nil, err
		}
	}

	cl := &Claim{
		ID:        ulid.Make().String(),
		SensorID:  id.SensorID,
		TS:        id.TS,
		Reviewer:  reviewer,
		ClaimedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Lock()
	c.claims[id] = cl
	total := len(c.claims)
	c.mu.Unlock()

	c.countClaim("granted")
	if c.metrics != nil {
		c.metrics.ActiveClaims.Set(float64(total))
	}
	c.logger.Info(ctx, "alert claimed", "identity", id.String(), "reviewer", reviewer, "claim_id", cl.ID)

	cp := *cl
	return &cp, nil
}

// Label applies a review label and finalizes the alert. The caller must hold
// the current claim.
func (c *Coordinator) Label(ctx context.Context, id alert.Identity, reviewer, label string) (*alert.Alert, error) {
	if label == "" {
		return nil, &alert.ValidationError{Field: "label", Reason: "must be non-empty"}
	}
	return c.resolve(ctx, id, reviewer, Mutation{ReviewState: alert.StateLabeled, Label: &label}, "label")
}

// Dismiss finalizes the alert without a label. The caller must hold the
// current claim.
func (c *Coordinator) Dismiss(ctx context.Context, id alert.Identity, reviewer string) (*alert.Alert, error) {
	return c.resolve(ctx, id, reviewer, Mutation{ReviewState: alert.StateDismissed}, "dismiss")
}

func (c *Coordinator) resolve(ctx context.Context, id alert.Identity, reviewer string, m Mutation, action string) (*alert.Alert, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	cl := c.active(id, c.now())
	if cl == nil {
		return nil, ErrNoActiveClaim
	}
	if cl.Reviewer != reviewer {
		return nil, ErrNotClaimOwner
	}

	a, err := c.store.Update(ctx, id, m)
	if err != nil {
		return nil, err
	}
	c.drop(id)

	c.countReview(action)
	c.logger.Info(ctx, "alert review resolved", "identity", id.String(), "action", action, "reviewer", reviewer)
	return a, nil
}

// Release returns a claimed alert to open. The caller must hold the current
// claim; an expired claim (or one lost to a restart) may be released by
// anyone.
func (c *Coordinator) Release(ctx context.Context, id alert.Identity, reviewer string) (*alert.Alert, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	cl := c.active(id, c.now())
	if cl != nil && cl.Reviewer != reviewer {
		return nil, ErrNotClaimOwner
	}
	if cl == nil {
		// No live claim: only a stale stored claimed state can be released.
		a, ok, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		if a.ReviewState != alert.StateClaimed {
			return nil, ErrNoActiveClaim
		}
	}

	a, err := c.store.Update(ctx, id, Mutation{ReviewState: alert.StateOpen})
	if err != nil {
		return nil, err
	}
	c.drop(id)

	c.countReview("release")
	c.logger.Info(ctx, "alert claim released", "identity", id.String(), "reviewer", reviewer)
	return a, nil
}

// Reopen is the administrative transition out of a terminal state back to
// open. It clears any label.
func (c *Coordinator) Reopen(ctx context.Context, id alert.Identity) (*alert.Alert, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	a, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !a.ReviewState.Terminal() {
		return nil, ErrNotTerminal
	}

	empty := ""
	updated, err := c.store.Update(ctx, id, Mutation{ReviewState: alert.StateOpen, Label: &empty})
	if err != nil {
		return nil, err
	}

	c.countReview("reopen")
	c.logger.Info(ctx, "alert reopened", "identity", id.String())
	return updated, nil
}

// ActiveClaim reports the current unexpired claim on the identity, if any.
// Expiry is evaluated lazily here like everywhere else.
func (c *Coordinator) ActiveClaim(id alert.Identity) (*Claim, bool) {
	cl := c.active(id, c.now())
	if cl == nil {
		return nil, false
	}
	cp := *cl
	return &cp, true
}

// StartSweeper launches an optional periodic sweep that returns alerts with
// expired claims to open, so queries see accurate states without waiting for
// the next per-identity access. The returned stop function blocks until the
// sweeper exits. Lazy expiry stays authoritative; interval <= 0 disables the
// sweep.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-t.C:
				c.sweep(sctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	var expired []alert.Identity
	for id, cl := range c.claims {
		if !now.Before(cl.ExpiresAt) {
			expired = append(expired, id)
			delete(c.claims, id)
		}
	}
	total := len(c.claims)
	c.mu.Unlock()

	if c.metrics != nil && len(expired) > 0 {
		c.metrics.ClaimsExpiredTotal.Add(float64(len(expired)))
		c.metrics.ActiveClaims.Set(float64(total))
	}

	for _, id := range expired {
		c.reclaim(ctx, id)
	}
}

// reclaim returns a single expired-claim alert to open, unless the identity
// was re-claimed or resolved in the meantime.
func (c *Coordinator) reclaim(ctx context.Context, id alert.Identity) {
	unlock := c.locks.lock(id)
	defer unlock()

	c.mu.Lock()
	_, reclaimed := c.claims[id]
	c.mu.Unlock()
	if reclaimed {
		return
	}

	a, ok, err := c.store.Get(ctx, id)
	if err != nil || !ok || a.ReviewState != alert.StateClaimed {
		return
	}
	if _, err := c.store.Update(ctx, id, Mutation{ReviewState: alert.StateOpen}); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Error(ctx, err, "failed to reclaim expired alert", "identity", id.String())
		return
	}
	c.logger.Info(ctx, "expired claim swept", "identity", id.String())
}

// active returns the live claim for id, discarding it lazily when expired.
func (c *Coordinator) active(id alert.Identity, now time.Time) *Claim {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.claims[id]
	if cl == nil {
		return nil
	}
	if !now.Before(cl.ExpiresAt) {
		delete(c.claims, id)
		if c.metrics != nil {
			c.metrics.ClaimsExpiredTotal.Inc()
			c.metrics.ActiveClaims.Set(float64(len(c.claims)))
		}
		return nil
	}
	return cl
}

func (c *Coordinator) drop(id alert.Identity) {
	c.mu.Lock()
	delete(c.claims, id)
	total := len(c.claims)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveClaims.Set(float64(total))
	}
}

func (c *Coordinator) countClaim(outcome string) {
	if c.metrics != nil {
		c.metrics.ClaimsTotal.WithLabelValues(outcome).Inc()
	}
}

func (c *Coordinator) countReview(action string) {
	if c.metrics != nil {
		c.metrics.ReviewActionsTotal.WithLabelValues(action).Inc()
	}
}

// identityLocks serializes operations per alert identity. Locks are created
// on demand and removed once the last holder releases, so the table stays
// proportional to in-flight operations.
type identityLocks struct {
	mu   sync.Mutex
	held map[alert.Identity]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func (l *identityLocks) lock(id alert.Identity) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[alert.Identity]*identityLock)
	}
	e := l.held[id]
	if e == nil {
		e = &identityLock{}
		l.held[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
