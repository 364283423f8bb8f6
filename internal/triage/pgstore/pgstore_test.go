package pgstore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/postgres"
	"github.com/linnemanlabs/hyperstream/internal/triage"
	"github.com/linnemanlabs/hyperstream/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("HYPERSTREAM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HYPERSTREAM_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// testIdentity returns an identity unlikely to collide across runs.
func testIdentity(sensor string) alert.Identity {
	return alert.Identity{
		SensorID: fmt.Sprintf("test-%s-%d", sensor, time.Now().UnixNano()),
		TS:       time.Now().Unix(),
	}
}

func TestPutAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := testIdentity("put-get")
	a := &alert.Alert{
		SensorID:    id.SensorID,
		TS:          id.TS,
		Severity:    3.5,
		Details:     map[string]any{"source": "ids", "count": float64(4)},
		ReviewState: alert.StateOpen,
	}

	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if got.Severity != 3.5 {
		t.Errorf("Severity = %v, want 3.5", got.Severity)
	}
	if got.ReviewState != alert.StateOpen {
		t.Errorf("ReviewState = %q, want open", got.ReviewState)
	}
	if got.Details["source"] != "ids" {
		t.Errorf("Details[source] = %v, want ids", got.Details["source"])
	}
	if got.IngestedAt.IsZero() {
		t.Error("IngestedAt should be set server-side")
	}
}

func TestPutConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := testIdentity("conflict")
	a := &alert.Alert{SensorID: id.SensorID, TS: id.TS, Severity: 1}
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, a); !errors.Is(err, triage.ErrConflict) {
		t.Fatalf("second Put err = %v, want ErrConflict", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), alert.Identity{SensorID: "test-never-written", TS: 1})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing identity")
	}
}

func TestUpdateLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := testIdentity("update")
	if err := s.Put(ctx, &alert.Alert{SensorID: id.SensorID, TS: id.TS, Severity: 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Update(ctx, id, triage.Mutation{ReviewState: alert.StateClaimed})
	if err != nil {
		t.Fatalf("Update claim: %v", err)
	}
	if got.ReviewState != alert.StateClaimed {
		t.Errorf("ReviewState = %q, want claimed", got.ReviewState)
	}

	label := "benign"
	got, err = s.Update(ctx, id, triage.Mutation{ReviewState: alert.StateLabeled, Label: &label})
	if err != nil {
		t.Fatalf("Update label: %v", err)
	}
	if got.ReviewState != alert.StateLabeled || got.Label != "benign" {
		t.Errorf("got state=%q label=%q, want labeled/benign", got.ReviewState, got.Label)
	}

	// Invalid mutations roll back without touching the row.
	if _, err := s.Update(ctx, id, triage.Mutation{ReviewState: alert.StateClaimed}); !errors.Is(err, triage.ErrInvalidMutation) {
		t.Fatalf("invalid update err = %v, want ErrInvalidMutation", err)
	}
	check, _, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if check.ReviewState != alert.StateLabeled || check.Label != "benign" {
		t.Errorf("rejected update mutated row: state=%q label=%q", check.ReviewState, check.Label)
	}
}

func TestUpdateMissing(t *testing.T) {
	s := openStore(t)

	_, err := s.Update(context.Background(), alert.Identity{SensorID: "test-never-written", TS: 1}, triage.Mutation{ReviewState: alert.StateClaimed})
	if !errors.Is(err, triage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQuery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	sensor := fmt.Sprintf("test-query-%d", time.Now().UnixNano())
	for i, sev := range []float64{1, 3, 5} {
		a := &alert.Alert{SensorID: sensor, TS: int64(i * 100), Severity: sev}
		if err := s.Put(ctx, a); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	var got []*alert.Alert
	for a, err := range s.Query(ctx, triage.Filter{SensorID: sensor}) {
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		got = append(got, a)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TS < got[i-1].TS {
			t.Errorf("results not ordered by ts: %d before %d", got[i-1].TS, got[i].TS)
		}
	}

	sevMin := 2.5
	n := 0
	for _, err := range s.Query(ctx, triage.Filter{SensorID: sensor, SeverityMin: &sevMin}) {
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("severity filter len = %d, want 2", n)
	}
}
