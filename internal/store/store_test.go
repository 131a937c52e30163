package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/amplihq/usagelens/internal/metrics"
	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/tips"
	"github.com/amplihq/usagelens/internal/window"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usagelens.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var computedAt = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// newSession builds a valid session starting at the given time.
func newSession(id string, startedAt time.Time, tools map[string]int) *session.Normalized {
	calls := 0
	for _, c := range tools {
		calls += c
	}
	return &session.Normalized{
		SessionID:       id,
		SubjectID:       "local",
		StartedAt:       startedAt,
		EndedAt:         startedAt.Add(30 * time.Minute),
		TurnCount:       10,
		ToolCallCount:   calls,
		ErrorCount:      1,
		DelegationCount: 2,
		ToolCalls:       tools,
		FilesTouched:    3,
		Status:          session.StatusCompleted,
	}
}

func apply(t *testing.T, s *Store, n *session.Normalized) *window.Metrics {
	t.Helper()
	sm, err := metrics.Compute(n, computedAt)
	if err != nil {
		t.Fatalf("Compute(%s): %v", n.SessionID, err)
	}
	w, err := s.ApplySession(n, &sm, window.Weekly)
	if err != nil {
		t.Fatalf("ApplySession(%s): %v", n.SessionID, err)
	}
	return w
}

func TestApplySessionCreatesWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC) // Wednesday
	w := apply(t, s, newSession("a", started, map[string]int{"bash": 4}))

	if w.Key != "2025-03-03" {
		t.Errorf("window key = %q, want 2025-03-03", w.Key)
	}
	if w.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", w.SessionCount)
	}

	got, err := s.GetWindow(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if diff := cmp.Diff(w, got); diff != "" {
		t.Errorf("stored window mismatch (-applied +loaded):\n%s", diff)
	}

	n, sm, err := s.GetSession(ctx, "a")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if n == nil || sm == nil {
		t.Fatal("expected stored session and metrics")
	}
	if !n.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", n.StartedAt, started)
	}
}

func TestApplySessionRejectsDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)
	n := newSession("a", started, map[string]int{"bash": 4})
	before := apply(t, s, n)

	sm, _ := metrics.Compute(n, computedAt)
	_, err := s.ApplySession(n, &sm, window.Weekly)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second apply error = %v, want ErrDuplicateSession", err)
	}

	// The window aggregate is unchanged by the rejected attempt.
	after, err := s.GetWindow(ctx, "local", window.Weekly, before.Key)
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("window changed by rejected duplicate (-before +after):\n%s", diff)
	}
}

func TestReapplySessionSameWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)
	apply(t, s, newSession("a", started, map[string]int{"bash": 4}))

	// Correct the session: more errors, different tool mix.
	corrected := newSession("a", started, map[string]int{"grep": 6})
	corrected.ErrorCount = 3
	sm, err := metrics.Compute(corrected, computedAt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	w, err := s.ReapplySession(corrected, &sm, window.Weekly)
	if err != nil {
		t.Fatalf("ReapplySession: %v", err)
	}

	if w.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", w.SessionCount)
	}
	if w.TotalErrors != 3 {
		t.Errorf("TotalErrors = %d, want 3", w.TotalErrors)
	}
	if diff := cmp.Diff(map[string]int{"grep": 6}, w.ToolCalls); diff != "" {
		t.Errorf("ToolCalls mismatch (-want +got):\n%s", diff)
	}

	ids, err := s.WindowSessionIDs(ctx, "local", window.Weekly, w.Key)
	if err != nil {
		t.Fatalf("WindowSessionIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("members = %v, want [a]", ids)
	}
}

func TestReapplySessionMovesWindows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Ingested into week of Mar 3, corrected into week of Mar 10.
	started := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)
	apply(t, s, newSession("a", started, map[string]int{"bash": 4}))
	apply(t, s, newSession("b", started, map[string]int{"grep": 2}))

	moved := newSession("a", started.AddDate(0, 0, 7), map[string]int{"bash": 4})
	sm, _ := metrics.Compute(moved, computedAt)
	w, err := s.ReapplySession(moved, &sm, window.Weekly)
	if err != nil {
		t.Fatalf("ReapplySession: %v", err)
	}
	if w.Key != "2025-03-10" {
		t.Errorf("new window key = %q, want 2025-03-10", w.Key)
	}

	old, err := s.GetWindow(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if old.SessionCount != 1 {
		t.Errorf("old window SessionCount = %d, want 1", old.SessionCount)
	}
	ids, _ := s.WindowSessionIDs(ctx, "local", window.Weekly, "2025-03-03")
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("old window members = %v, want [b]", ids)
	}
}

func TestWindowRetractedToZeroReadsAsAbsent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// The window's only session moves out, leaving a zero row.
	started := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)
	apply(t, s, newSession("a", started, map[string]int{"bash": 4}))

	moved := newSession("a", started.AddDate(0, 0, 7), map[string]int{"bash": 4})
	sm, _ := metrics.Compute(moved, computedAt)
	if _, err := s.ReapplySession(moved, &sm, window.Weekly); err != nil {
		t.Fatalf("ReapplySession: %v", err)
	}

	w, err := s.GetWindow(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if w != nil {
		t.Errorf("retracted window = %+v, want nil", w)
	}

	keys, err := s.ListWindowKeys(ctx, "local", window.Weekly)
	if err != nil {
		t.Fatalf("ListWindowKeys: %v", err)
	}
	if diff := cmp.Diff([]string{"2025-03-10"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestReapplyUnknownSessionFails(t *testing.T) {
	s := testStore(t)

	n := newSession("ghost", time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC), nil)
	sm, _ := metrics.Compute(n, computedAt)
	if _, err := s.ReapplySession(n, &sm, window.Weekly); err == nil {
		t.Fatal("expected error correcting unknown session")
	}
}

func TestFoldInvariant(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := []*session.Normalized{
		newSession("a", base, map[string]int{"bash": 4, "grep": 2}),
		newSession("b", base.Add(26*time.Hour), map[string]int{"read_file": 8}),
		newSession("c", base.Add(50*time.Hour), map[string]int{"bash": 1}),
	}
	for _, n := range sessions {
		apply(t, s, n)
	}

	// Correct one member, which exercises retract arithmetic too.
	corrected := newSession("b", base.Add(26*time.Hour), map[string]int{"edit_file": 3})
	sm, _ := metrics.Compute(corrected, computedAt)
	if _, err := s.ReapplySession(corrected, &sm, window.Weekly); err != nil {
		t.Fatalf("ReapplySession: %v", err)
	}

	stored, err := s.GetWindow(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	members, err := s.WindowMembers(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("WindowMembers: %v", err)
	}
	folded := window.Fold("local", "2025-03-03", window.Weekly, members)

	// Counters must match exactly; streaming means to float
	// tolerance.
	opts := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(folded, stored, opts); diff != "" {
		t.Errorf("fold invariant violated (-fold +stored):\n%s", diff)
	}
}

func TestListWindowKeysAndToolUsage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	apply(t, s, newSession("a",
		time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		map[string]int{"bash": 4, "grep": 1}))
	apply(t, s, newSession("b",
		time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		map[string]int{"bash": 2}))

	keys, err := s.ListWindowKeys(ctx, "local", window.Weekly)
	if err != nil {
		t.Fatalf("ListWindowKeys: %v", err)
	}
	if diff := cmp.Diff([]string{"2025-03-03", "2025-03-10"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	usage, err := s.ToolUsage(ctx, "local", window.Weekly)
	if err != nil {
		t.Fatalf("ToolUsage: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"bash": 6, "grep": 1}, usage); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}
}

func TestGetWindowAbsent(t *testing.T) {
	s := testStore(t)
	w, err := s.GetWindow(context.Background(), "local", window.Weekly, "2025-01-06")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil window, got %+v", w)
	}
}

func TestTipsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	items := []tips.Tip{
		{
			ID: "tip-1", SubjectID: "local",
			GeneratedAt:     computedAt,
			Category:        "delegation",
			Priority:        tips.PriorityHigh,
			Observation:     "low delegation",
			Recommendation:  "delegate more",
			ExpectedBenefit: "less toil",
			TriggeredBy:     []string{"a", "b"},
		},
		{
			ID: "tip-2", SubjectID: "local",
			GeneratedAt:    computedAt.Add(time.Minute),
			Category:       "tool_usage",
			Priority:       tips.PriorityMedium,
			Observation:    "heavy bash",
			Recommendation: "use grep",
		},
	}
	if err := s.SaveTips(items); err != nil {
		t.Fatalf("SaveTips: %v", err)
	}

	got, err := s.ListTips(ctx, "local", 10)
	if err != nil {
		t.Fatalf("ListTips: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListTips returned %d tips, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "tip-2" || got[1].ID != "tip-1" {
		t.Errorf("order = [%s %s], want [tip-2 tip-1]", got[0].ID, got[1].ID)
	}
	if got[1].Helpful != nil {
		t.Errorf("Helpful = %v, want unset", *got[1].Helpful)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got[1].TriggeredBy); diff != "" {
		t.Errorf("TriggeredBy mismatch (-want +got):\n%s", diff)
	}
}

func TestTipFeedback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveTips([]tips.Tip{{
		ID: "tip-1", SubjectID: "local", GeneratedAt: computedAt,
		Category: "delegation", Priority: tips.PriorityHigh,
		Observation: "o", Recommendation: "r",
	}}); err != nil {
		t.Fatalf("SaveTips: %v", err)
	}

	shown, helpful := true, false
	found, err := s.SetTipFeedback("tip-1", TipFeedback{
		Shown: &shown, Helpful: &helpful,
	})
	if err != nil {
		t.Fatalf("SetTipFeedback: %v", err)
	}
	if !found {
		t.Fatal("SetTipFeedback: tip not found")
	}

	got, err := s.ListTips(ctx, "local", 10)
	if err != nil {
		t.Fatalf("ListTips: %v", err)
	}
	if !got[0].Shown {
		t.Error("Shown = false, want true")
	}
	if got[0].Dismissed {
		t.Error("Dismissed = true, want false")
	}
	if got[0].Helpful == nil || *got[0].Helpful {
		t.Errorf("Helpful = %v, want false", got[0].Helpful)
	}

	found, err = s.SetTipFeedback("no-such-tip", TipFeedback{Shown: &shown})
	if err != nil {
		t.Fatalf("SetTipFeedback: %v", err)
	}
	if found {
		t.Error("expected not-found for unknown tip id")
	}
}

func TestGetStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	apply(t, s, newSession("a",
		time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		map[string]int{"bash": 4}))

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	want := Stats{SessionCount: 1, SubjectCount: 1, WindowCount: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}

func TestStreamingAveragesSurviveRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	for i, tools := range []map[string]int{
		{"bash": 10},
		{"bash": 2, "grep": 2},
		{"edit_file": 5, "read_file": 5, "glob": 5, "grep": 5},
	} {
		n := newSession(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), tools)
		apply(t, s, n)
	}

	w, err := s.GetWindow(ctx, "local", window.Weekly, "2025-03-03")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	// Diversities: 0, 1, 2 bits; the streaming mean is 1.
	if math.Abs(w.AvgToolDiversity-1) > 1e-9 {
		t.Errorf("AvgToolDiversity = %v, want 1", w.AvgToolDiversity)
	}
	if math.Abs(w.AvgSessionDuration-1800) > 1e-9 {
		t.Errorf("AvgSessionDuration = %v, want 1800", w.AvgSessionDuration)
	}
}
