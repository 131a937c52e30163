package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/amplihq/usagelens/internal/ingest"
	"github.com/amplihq/usagelens/internal/store"
	"github.com/amplihq/usagelens/internal/window"
)

const sampleLine = `{"session_id":"%s","subject_id":"local",` +
	`"started_at":"2025-03-10T14:00:00Z","ended_at":"2025-03-10T14:30:00Z",` +
	`"turn_count":6,"tool_call_count":4,"error_count":0,"delegation_count":1,` +
	`"tool_calls":{"bash":2,"grep":2},"status":"completed"}`

func testPipe(t *testing.T) *ingest.Pipeline {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "usagelens.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return ingest.New(st, window.Weekly)
}

func TestIngestStream(t *testing.T) {
	pipe := testPipe(t)

	input := strings.NewReplacer("%s", "a").Replace(sampleLine) + "\n" +
		"\n" + // blank lines are skipped
		strings.NewReplacer("%s", "b").Replace(sampleLine) + "\n" +
		strings.NewReplacer("%s", "a").Replace(sampleLine) + "\n" + // duplicate
		"{not json}\n"

	ingested, skipped, failed := ingestStream(pipe, strings.NewReader(input), false)
	if ingested != 2 || skipped != 1 || failed != 1 {
		t.Errorf("ingestStream = %d/%d/%d, want 2 ingested, 1 skipped, 1 failed",
			ingested, skipped, failed)
	}
}

func TestIngestStreamCorrect(t *testing.T) {
	pipe := testPipe(t)

	line := strings.NewReplacer("%s", "a").Replace(sampleLine)
	if n, _, _ := ingestStream(pipe, strings.NewReader(line), false); n != 1 {
		t.Fatalf("seed ingest = %d, want 1", n)
	}

	// Correcting a known session succeeds; an unknown one fails.
	ingested, _, failed := ingestStream(pipe, strings.NewReader(line), true)
	if ingested != 1 || failed != 0 {
		t.Errorf("correct = %d ingested %d failed, want 1/0", ingested, failed)
	}
	ghost := strings.NewReplacer("%s", "ghost").Replace(sampleLine)
	_, _, failed = ingestStream(pipe, strings.NewReader(ghost), true)
	if failed != 1 {
		t.Errorf("ghost correct failed = %d, want 1", failed)
	}
}
