package postgres

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	got := httpMethodFromContext(ctx)
	if got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
}

func TestWithHTTPMethod_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "")
	got := httpMethodFromContext(ctx)
	if got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestHTTPMethodFromContext_Missing(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(context.Background()); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty for plain context", got)
	}
}

func TestRoutePatternFromContext_Missing(t *testing.T) {
	t.Parallel()

	if got := routePatternFromContext(context.Background()); got != "" {
		t.Errorf("routePatternFromContext = %q, want empty without chi context", got)
	}
}

// The observer is a process-global, so these cases run sequentially in one
// test instead of in parallel subtests.
func TestSetQueryObserver(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	SetQueryObserver(QueryObserverFunc(func(_ context.Context, method, route, outcome string, _ time.Duration) {
		mu.Lock()
		calls = append(calls, method+" "+route+" "+outcome)
		mu.Unlock()
	}))
	defer SetQueryObserver(nil)

	obs := getQueryObserver()
	if obs == nil {
		t.Fatal("expected observer after SetQueryObserver")
	}
	obs.ObserveQuery(context.Background(), "POST", "/api/v1/alerts", "ok", time.Millisecond)

	mu.Lock()
	if len(calls) != 1 || calls[0] != "POST /api/v1/alerts ok" {
		t.Errorf("calls = %v", calls)
	}
	mu.Unlock()

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after SetQueryObserver(nil)")
	}
}
