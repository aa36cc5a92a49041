package trace

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	records := []Record{
		{Session: "s1", Hop: 0, Tool: "fel_validate", Arguments: map[string]any{"xml_path": "/data/in/a.xml"}, OK: true, Duration: 30 * time.Millisecond},
		{Session: "s1", Hop: 1, Tool: "fel_render", Arguments: map[string]any{"xml_path": "/data/in/a.xml"}, OK: false, Error: "render failed", Duration: 5 * time.Millisecond},
		{Session: "s2", Hop: 0, Tool: "fel_batch", Arguments: map[string]any{"dir_xml": "/data/in"}, OK: true},
	}
	for _, rec := range records {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.BySession(ctx, "s1")
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Tool != "fel_validate" || got[1].Tool != "fel_render" {
		t.Errorf("order = %s, %s; want fel_validate, fel_render", got[0].Tool, got[1].Tool)
	}
	if got[0].Arguments["xml_path"] != "/data/in/a.xml" {
		t.Errorf("arguments round-trip = %v", got[0].Arguments)
	}
	if got[1].OK || got[1].Error != "render failed" {
		t.Errorf("failure record = %+v", got[1])
	}
	if got[0].Duration != 30*time.Millisecond {
		t.Errorf("Duration = %v, want 30ms", got[0].Duration)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestBySessionEmpty(t *testing.T) {
	s := openStore(t)
	got, err := s.BySession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.Append(context.Background(), Record{Session: "x"}); err != nil {
		t.Errorf("nil Append = %v, want nil", err)
	}
	if recs, err := s.BySession(context.Background(), "x"); err != nil || recs != nil {
		t.Errorf("nil BySession = %v, %v; want nil, nil", recs, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil Close = %v, want nil", err)
	}
}

func TestOpenIsIdempotentOnSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Append(context.Background(), Record{Session: "s", Tool: "t"}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	// Reopening over existing data must not fail or clobber rows.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.BySession(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("len after reopen = %d, want 1", len(got))
	}
}
