package ingestclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snapetech/siteslam/internal/broadcaster"
	"github.com/snapetech/siteslam/internal/debounce"
	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/siteconfig"
)

func TestNewRejectsNonHTTPScheme(t *testing.T) {
	if _, err := New("file:///etc/passwd"); err == nil {
		t.Fatal("expected error for non-http base URL")
	}
}

func TestUpsertOfficePostsExpectedBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "office_id": 1})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.UpsertOffice(context.Background(), siteconfig.OfficeSpec{
		Name: "HQ", GatewayIP: "1.1.1.1", MXIP: "2.2.2.2", TunnelProbeIP: "3.3.3.3",
	})
	if err != nil {
		t.Fatalf("UpsertOffice: %v", err)
	}
	if gotPath != "/offices" {
		t.Errorf("path = %q, want /offices", gotPath)
	}
	if gotBody["name"] != "HQ" {
		t.Errorf("body = %+v", gotBody)
	}
	if gotBody["retries_down"].(float64) != domain.DefaultRetriesDown {
		t.Errorf("retries_down default not applied: %+v", gotBody)
	}
}

func TestIngestStateChangePostsCommittedEvent(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "inserted": 1})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ev := debounce.Event{NewState: domain.StateDown, Sample: domain.Sample{}, At: time.Unix(1000, 0)}
	if err := c.IngestStateChange(context.Background(), "HQ", ev); err != nil {
		t.Fatalf("IngestStateChange: %v", err)
	}
	if gotBody["office"] != "HQ" || gotBody["state"] != "down" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestIngestTicksSkipsUnsampledEntries(t *testing.T) {
	var callCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		var body []map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if len(body) != 1 {
			t.Errorf("expected 1 entry (unsampled filtered out), got %d", len(body))
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "count": len(body)})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.IngestTicks(context.Background(), []broadcaster.TickEntry{
		{Office: "HQ", Sampled: true, TS: 1},
		{Office: "Branch", Sampled: false, TS: 2},
	})
	if err != nil {
		t.Fatalf("IngestTicks: %v", err)
	}
	if callCount != 1 {
		t.Fatalf("expected 1 HTTP call, got %d", callCount)
	}
}

func TestIngestTicksNoOpOnEmptyBatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.IngestTicks(context.Background(), nil); err != nil {
		t.Fatalf("IngestTicks: %v", err)
	}
	if called {
		t.Fatal("expected no HTTP call for an empty batch")
	}
}
