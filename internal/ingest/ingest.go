// Package ingest runs the write path: validate a normalized
// session, compute its metrics, and fold it into the subject's
// window aggregates in one store transaction.
package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/amplihq/usagelens/internal/metrics"
	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/store"
	"github.com/amplihq/usagelens/internal/window"
)

// Pipeline folds sessions into one granularity's windows. Writers
// for the same subject are serialized; distinct subjects proceed
// in parallel.
type Pipeline struct {
	store       *store.Store
	granularity window.Granularity
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s *store.Store, g window.Granularity) *Pipeline {
	return &Pipeline{
		store:       s,
		granularity: g,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) subjectLock(subjectID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[subjectID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[subjectID] = l
	}
	return l
}

// Ingest validates n, computes its session metrics, and applies it
// to its window. A session id already applied at this granularity
// is rejected with store.ErrDuplicateSession and leaves every
// aggregate unchanged.
func (p *Pipeline) Ingest(ctx context.Context, n *session.Normalized) (*window.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sm, err := metrics.Compute(n, p.now().UTC())
	if err != nil {
		return nil, err
	}

	l := p.subjectLock(n.SubjectID)
	l.Lock()
	defer l.Unlock()
	return p.store.ApplySession(n, &sm, p.granularity)
}

// Correct replaces a previously ingested session: the stored
// contribution is retracted from its window and the corrected
// record applied, possibly to a different window. Correcting a
// session id that was never ingested is an error.
func (p *Pipeline) Correct(ctx context.Context, n *session.Normalized) (*window.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sm, err := metrics.Compute(n, p.now().UTC())
	if err != nil {
		return nil, err
	}

	l := p.subjectLock(n.SubjectID)
	l.Lock()
	defer l.Unlock()
	return p.store.ReapplySession(n, &sm, p.granularity)
}

// Drift describes a window whose stored aggregate disagrees with a
// fresh fold over its member sessions.
type Drift struct {
	SubjectID string
	Key       string
	Field     string
	Stored    float64
	Folded    float64
}

// avgTolerance bounds accumulated float error in the streaming
// means; counters must match exactly.
const avgTolerance = 1e-6

// Reconcile refolds every window of one subject from its member
// sessions and reports fields that disagree with the stored row.
// It never mutates; drift means a bug upstream, not data to fix
// silently.
func (p *Pipeline) Reconcile(ctx context.Context, subjectID string) ([]Drift, error) {
	keys, err := p.store.ListWindowKeys(ctx, subjectID, p.granularity)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, err := p.store.GetWindow(ctx, subjectID, p.granularity, key)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			continue
		}
		members, err := p.store.WindowMembers(ctx, subjectID, p.granularity, key)
		if err != nil {
			return nil, err
		}
		folded := window.Fold(subjectID, key, p.granularity, members)
		drifts = append(drifts, diffWindows(stored, folded)...)
	}
	return drifts, nil
}

func diffWindows(stored, folded *window.Metrics) []Drift {
	var out []Drift
	report := func(field string, s, f float64, tol float64) {
		if math.Abs(s-f) > tol {
			out = append(out, Drift{
				SubjectID: stored.SubjectID,
				Key:       stored.Key,
				Field:     field,
				Stored:    s,
				Folded:    f,
			})
		}
	}
	report("session_count", float64(stored.SessionCount), float64(folded.SessionCount), 0)
	report("total_duration_seconds", float64(stored.TotalDurationSeconds), float64(folded.TotalDurationSeconds), 0)
	report("total_turns", float64(stored.TotalTurns), float64(folded.TotalTurns), 0)
	report("total_tool_calls", float64(stored.TotalToolCalls), float64(folded.TotalToolCalls), 0)
	report("total_delegations", float64(stored.TotalDelegations), float64(folded.TotalDelegations), 0)
	report("total_errors", float64(stored.TotalErrors), float64(folded.TotalErrors), 0)
	report("avg_tool_diversity", stored.AvgToolDiversity, folded.AvgToolDiversity, avgTolerance)
	report("avg_error_rate", stored.AvgErrorRate, folded.AvgErrorRate, avgTolerance)
	report("avg_delegation_ratio", stored.AvgDelegationRatio, folded.AvgDelegationRatio, avgTolerance)
	report("avg_session_duration", stored.AvgSessionDuration, folded.AvgSessionDuration, avgTolerance)

	for tool, count := range folded.ToolCalls {
		if stored.ToolCalls[tool] != count {
			report("tool_calls."+tool, float64(stored.ToolCalls[tool]), float64(count), 0)
		}
	}
	for tool, count := range stored.ToolCalls {
		if _, ok := folded.ToolCalls[tool]; !ok {
			report("tool_calls."+tool, float64(count), 0, 0)
		}
	}
	return out
}

// Subjects lists every subject with at least one stored session,
// for the scheduled reconciliation sweep.
func (p *Pipeline) Subjects(ctx context.Context) ([]string, error) {
	return p.store.Subjects(ctx)
}

// Granularity reports the window granularity this pipeline folds
// into.
func (p *Pipeline) Granularity() window.Granularity {
	return p.granularity
}
