package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/hyperstream/internal/alert"
)

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	a := &alert.Alert{
		SensorID:    "ch_001",
		TS:          1700000000,
		Severity:    4.8,
		ReviewState: alert.StateOpen,
	}

	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields = 3 blocks
	if len(blocks) != 3 {
		t.Errorf("blocks count = %d, want 3", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "ch_001@1700000000") {
		t.Errorf("header text = %q, want to contain the alert identity", headerText)
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	if len(fields) != 4 {
		t.Fatalf("fields count = %d, want 4", len(fields))
	}
	severityField := fields[2].(map[string]any)["text"].(string)
	if !strings.Contains(severityField, "4.80") {
		t.Errorf("severity field = %q, want to contain 4.80", severityField)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Notify(context.Background(), &alert.Alert{}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Notify(context.Background(), &alert.Alert{SensorID: "ch_001", TS: 1})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("ch_001", int64(1700000000), 4.8, "open")
	f.Add("", int64(0), 0.0, "")
	f.Add("<@U123> mention", int64(-1), 5.0, "claimed")
	f.Add("sensor\x00\x01\x02", int64(1), 2.5, "sev\nline")
	f.Add(strings.Repeat("A", 5000), int64(1<<60), 3.3, "dismissed")

	f.Fuzz(func(t *testing.T, sensor string, ts int64, severity float64, state string) {
		a := &alert.Alert{
			SensorID:    sensor,
			TS:          ts,
			Severity:    severity,
			ReviewState: alert.ReviewState(state),
		}

		// Must not panic
		msg := buildMessage(a)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 3 {
			t.Fatalf("blocks count = %d, want 3", len(blocks))
		}
	})
}
