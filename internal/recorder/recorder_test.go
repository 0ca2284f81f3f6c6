package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderWritesEvents(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	if err := rec.Start("run-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.Log("open", "run-1", map[string]string{"url": "https://example.com"})
	rec.Log("filter", "run-1", map[string]string{"name": "College", "value": "Lehman"})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 trace file, got %d", len(entries))
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("bad trace line: %v", err)
		}
		events = append(events, evt)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Stage != "open" || events[1].Stage != "filter" {
		t.Errorf("unexpected stages: %q, %q", events[0].Stage, events[1].Stage)
	}
	if events[0].RunID != "run-1" {
		t.Errorf("unexpected run id: %q", events[0].RunID)
	}
}

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	for i := 0; i < MaxRotatedFiles+2; i++ {
		if err := rec.Start("run"); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		rec.Log("open", "run", nil)
		// Distinct mtimes so rotation ordering is deterministic.
		time.Sleep(10 * time.Millisecond)
	}
	rec.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) > MaxRotatedFiles {
		t.Errorf("expected at most %d traces, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderLogWithoutStart(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	// Must not panic.
	rec.Log("open", "run", nil)
	if err := rec.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
