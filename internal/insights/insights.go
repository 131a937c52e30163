// Package insights is the read-side facade: it resolves time
// ranges to windows, runs the growth analyzer and tip generator,
// and assembles the report shapes the CLI and HTTP layers expose.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amplihq/usagelens/internal/growth"
	"github.com/amplihq/usagelens/internal/store"
	"github.com/amplihq/usagelens/internal/tips"
	"github.com/amplihq/usagelens/internal/window"
)

// ErrInsufficientData marks queries over subjects or ranges with
// no recorded sessions. It is a displayable empty state, not a
// failure.
var ErrInsufficientData = errors.New("insufficient data")

// TimeRange selects how far back a query looks.
type TimeRange string

const (
	RangeWeek   TimeRange = "week"
	Range30Days TimeRange = "month"
	Range90Days TimeRange = "90days"
	RangeAll    TimeRange = "all"
)

func ParseRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case RangeWeek, Range30Days, Range90Days, RangeAll:
		return TimeRange(s), nil
	case "":
		return RangeWeek, nil
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// start returns the inclusive lower bound of the range, or the
// zero time for RangeAll.
func (r TimeRange) start(now time.Time) time.Time {
	switch r {
	case RangeWeek:
		return now.AddDate(0, 0, -7)
	case Range30Days:
		return now.AddDate(0, 0, -30)
	case Range90Days:
		return now.AddDate(0, 0, -90)
	}
	return time.Time{}
}

// Engine answers read queries against the window store.
type Engine struct {
	store        *store.Store
	generator    tips.Generator
	granularity  window.Granularity
	growthCfg    growth.Config
	trendWindows int
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator swaps the tip generator; the default is the
// built-in rule engine.
func WithGenerator(g tips.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithGrowthConfig overrides the analyzer thresholds.
func WithGrowthConfig(cfg growth.Config) Option {
	return func(e *Engine) { e.growthCfg = cfg }
}

// WithTrendWindows sets how many trailing windows feed the trend
// strength correlation.
func WithTrendWindows(n int) Option {
	return func(e *Engine) { e.trendWindows = n }
}

// WithClock fixes the engine's notion of now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s *store.Store, g window.Granularity, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		generator:    tips.NewEngine(tips.DefaultRules, 10),
		granularity:  g,
		growthCfg:    growth.DefaultConfig(),
		trendWindows: 8,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report is the full insights response.
type Report struct {
	SubjectID string    `json:"subject_id"`
	Range     TimeRange `json:"time_range"`
	Summary   string    `json:"summary"`

	// InsufficientData marks a valid empty report for a range
	// with no sessions.
	InsufficientData bool `json:"insufficient_data,omitempty"`

	Metrics MetricsBlock     `json:"metrics"`
	Tips    []tips.Tip       `json:"tips"`
	Growth  GrowthIndicators `json:"growth_indicators"`
}

type MetricsBlock struct {
	Sessions           SessionsBlock       `json:"sessions"`
	ToolSophistication SophisticationBlock `json:"tool_sophistication"`
	Effectiveness      EffectivenessBlock  `json:"effectiveness"`
}

type SessionsBlock struct {
	Count int `json:"count"`
	// VsPrev is the signed percent change of the latest window's
	// session count versus its predecessor; nil without one.
	VsPrev               *float64 `json:"vs_prev"`
	TotalDurationSeconds int64    `json:"total_duration_seconds"`
}

type SophisticationBlock struct {
	UniqueTools  int               `json:"unique_tools"`
	TopTools     []window.ToolUse  `json:"top_tools"`
	AvgDiversity float64           `json:"avg_tool_diversity"`
	TotalCalls   int               `json:"total_tool_calls"`
}

type EffectivenessBlock struct {
	AvgSessionDurationSeconds float64 `json:"avg_session_duration_seconds"`
	DelegationRatio           float64 `json:"delegation_ratio"`
	ErrorRate                 float64 `json:"error_rate"`
}

type GrowthIndicators struct {
	OverallTrend   growth.Direction `json:"overall_trend"`
	StrongestArea  string           `json:"strongest_area"`
	AreasToImprove []string         `json:"areas_to_improve"`
	Signals        []growth.Signal  `json:"signals"`
}

// rangeNoun is the unit word used in summary strings.
func (e *Engine) rangeNoun() string {
	switch e.granularity {
	case window.Daily:
		return "day"
	case window.Monthly:
		return "month"
	}
	return "week"
}

// GetInsights assembles the full report for one subject. A range
// with no sessions yields a valid insufficient-data report.
func (e *Engine) GetInsights(ctx context.Context, subjectID string, r TimeRange) (*Report, error) {
	keys, err := e.rangeKeys(ctx, subjectID, r)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return e.emptyReport(subjectID, r), nil
	}

	current, previous, err := e.currentAndPrevious(ctx, subjectID, keys)
	if err != nil {
		return nil, err
	}

	signals, err := e.signals(ctx, subjectID, current.Key)
	if err != nil {
		return nil, err
	}

	generated, err := e.generateTips(ctx, subjectID, current, previous, signals)
	if err != nil {
		return nil, err
	}

	noun := e.rangeNoun()
	report := &Report{
		SubjectID: subjectID,
		Range:     r,
		Tips:      generated,
		Metrics: MetricsBlock{
			Sessions: SessionsBlock{
				Count:                current.SessionCount,
				VsPrev:               signals[growth.MetricSessionCount].RecentChange,
				TotalDurationSeconds: current.TotalDurationSeconds,
			},
			ToolSophistication: SophisticationBlock{
				UniqueTools:  current.UniqueTools(),
				TopTools:     current.TopTools(5),
				AvgDiversity: current.AvgToolDiversity,
				TotalCalls:   current.TotalToolCalls,
			},
			Effectiveness: EffectivenessBlock{
				AvgSessionDurationSeconds: current.AvgSessionDuration,
				DelegationRatio:           current.AvgDelegationRatio,
				ErrorRate:                 current.AvgErrorRate,
			},
		},
		Growth: indicators(signals),
	}
	report.Summary = summaryText(current.SessionCount, report.Metrics.Sessions.VsPrev, noun)
	return report, nil
}

func (e *Engine) emptyReport(subjectID string, r TimeRange) *Report {
	return &Report{
		SubjectID:        subjectID,
		Range:            r,
		Summary:          fmt.Sprintf("No sessions recorded this %s yet.", e.rangeNoun()),
		InsufficientData: true,
		Tips:             []tips.Tip{},
		Growth: GrowthIndicators{
			OverallTrend:  growth.Stable,
			StrongestArea: "unknown",
		},
	}
}

// rangeKeys lists the subject's stored window keys falling inside
// the range, chronological.
func (e *Engine) rangeKeys(ctx context.Context, subjectID string, r TimeRange) ([]string, error) {
	keys, err := e.store.ListWindowKeys(ctx, subjectID, e.granularity)
	if err != nil {
		return nil, err
	}
	if r == RangeAll {
		return keys, nil
	}
	// Window keys are date strings, so lexicographic comparison
	// is chronological.
	floor := e.granularity.Key(r.start(e.now().UTC()))
	filtered := keys[:0]
	for _, k := range keys {
		if k >= floor {
			filtered = append(filtered, k)
		}
	}
	return filtered, nil
}

func (e *Engine) currentAndPrevious(ctx context.Context, subjectID string, keys []string) (current, previous *window.Metrics, err error) {
	currentKey := keys[len(keys)-1]
	current, err = e.store.GetWindow(ctx, subjectID, e.granularity, currentKey)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, fmt.Errorf("window %s vanished during query", currentKey)
	}
	prevKey, err := e.granularity.Prev(currentKey)
	if err != nil {
		return nil, nil, err
	}
	previous, err = e.store.GetWindow(ctx, subjectID, e.granularity, prevKey)
	if err != nil {
		return nil, nil, err
	}
	return current, previous, nil
}

// signals runs the growth analyzer for every tracked metric over
// the trailing series ending at currentKey. The series is clipped
// at the subject's earliest stored window: windows from before the
// subject existed are padding, not zero-activity gaps, and must
// not count toward the trend-strength minimum.
func (e *Engine) signals(ctx context.Context, subjectID, currentKey string) (map[growth.Metric]growth.Signal, error) {
	trailing, err := e.granularity.Trailing(currentKey, e.trendWindows)
	if err != nil {
		return nil, err
	}
	stored, err := e.store.ListWindowKeys(ctx, subjectID, e.granularity)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		earliest := stored[0]
		for len(trailing) > 0 && trailing[0] < earliest {
			trailing = trailing[1:]
		}
	}
	series, err := e.store.GetWindows(ctx, subjectID, e.granularity, trailing)
	if err != nil {
		return nil, err
	}
	out := make(map[growth.Metric]growth.Signal, len(growth.Tracked))
	for _, m := range growth.Tracked {
		out[m] = growth.Analyze(m, series, e.growthCfg)
	}
	return out, nil
}

func (e *Engine) generateTips(ctx context.Context, subjectID string, current, previous *window.Metrics, signals map[growth.Metric]growth.Signal) ([]tips.Tip, error) {
	sessionIDs, err := e.store.WindowSessionIDs(ctx, subjectID, e.granularity, current.Key)
	if err != nil {
		return nil, err
	}
	generated, err := e.generator.Generate(ctx, tips.Inputs{
		SubjectID:  subjectID,
		Current:    current,
		Previous:   previous,
		Signals:    signals,
		SessionIDs: sessionIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("generating tips: %w", err)
	}
	if generated == nil {
		generated = []tips.Tip{}
	}
	return generated, nil
}

// area maps growth metrics to the report's improvement-area
// vocabulary.
func area(m growth.Metric) string {
	switch m {
	case growth.MetricDelegationRatio:
		return "delegation"
	case growth.MetricToolDiversity:
		return "tool_diversity"
	case growth.MetricErrorRate:
		return "error_handling"
	}
	return string(m)
}

// indicators derives the overall trend and strongest/weakest
// areas from the per-metric signals. Overall trend follows the
// session-count signal; areas rank the remaining metrics by
// polarity-adjusted recent change.
func indicators(signals map[growth.Metric]growth.Signal) GrowthIndicators {
	ind := GrowthIndicators{
		OverallTrend:   signals[growth.MetricSessionCount].Direction,
		StrongestArea:  "unknown",
		AreasToImprove: []string{},
	}
	for _, m := range growth.Tracked {
		ind.Signals = append(ind.Signals, signals[m])
	}

	best := 0.0
	for _, m := range []growth.Metric{
		growth.MetricDelegationRatio,
		growth.MetricToolDiversity,
		growth.MetricErrorRate,
	} {
		sig := signals[m]
		if sig.RecentChange == nil {
			continue
		}
		score := *sig.RecentChange
		if m == growth.MetricErrorRate {
			score = -score
		}
		if score > best {
			best = score
			ind.StrongestArea = area(m)
		}
		if score < -5 {
			ind.AreasToImprove = append(ind.AreasToImprove, area(m))
		}
	}
	return ind
}

func summaryText(count int, vsPrev *float64, noun string) string {
	s := fmt.Sprintf("%d sessions this %s", count, noun)
	if vsPrev == nil {
		return s
	}
	switch {
	case *vsPrev > 0:
		return fmt.Sprintf("%s, up %.0f%% from last %s", s, *vsPrev, noun)
	case *vsPrev < 0:
		return fmt.Sprintf("%s, down %.0f%% from last %s", s, -*vsPrev, noun)
	}
	return fmt.Sprintf("%s, same as last %s", s, noun)
}

// ToolUsage is the all-time tool usage breakdown for one subject.
type ToolUsage struct {
	SubjectID   string           `json:"subject_id"`
	TotalCalls  int              `json:"total_calls"`
	UniqueTools int              `json:"unique_tools"`
	TopTools    []window.ToolUse `json:"top_tools"`
}

// GetToolUsage sums the subject's per-tool call counts across all
// windows.
func (e *Engine) GetToolUsage(ctx context.Context, subjectID string) (*ToolUsage, error) {
	counts, err := e.store.ToolUsage(ctx, subjectID, e.granularity)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: no tool calls recorded for %s", ErrInsufficientData, subjectID)
	}
	usage := &ToolUsage{
		SubjectID:   subjectID,
		UniqueTools: len(counts),
		TopTools:    window.RankTools(counts, 10),
	}
	for _, c := range counts {
		usage.TotalCalls += c
	}
	return usage, nil
}

// GrowthSummary compares the subject's latest window against its
// predecessor for every tracked metric.
type GrowthSummary struct {
	SubjectID        string           `json:"subject_id"`
	WindowKey        string           `json:"window_key"`
	CurrentSessions  int              `json:"current_sessions"`
	PreviousSessions int              `json:"previous_sessions"`
	OverallTrend     growth.Direction `json:"overall_trend"`
	Signals          []growth.Signal  `json:"signals"`
}

// GetGrowth reports the latest-vs-previous growth signals.
func (e *Engine) GetGrowth(ctx context.Context, subjectID string) (*GrowthSummary, error) {
	keys, err := e.store.ListWindowKeys(ctx, subjectID, e.granularity)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no sessions recorded for %s", ErrInsufficientData, subjectID)
	}
	current, previous, err := e.currentAndPrevious(ctx, subjectID, keys)
	if err != nil {
		return nil, err
	}
	signals, err := e.signals(ctx, subjectID, current.Key)
	if err != nil {
		return nil, err
	}

	summary := &GrowthSummary{
		SubjectID:       subjectID,
		WindowKey:       current.Key,
		CurrentSessions: current.SessionCount,
		OverallTrend:    signals[growth.MetricSessionCount].Direction,
	}
	if previous != nil {
		summary.PreviousSessions = previous.SessionCount
	}
	for _, m := range growth.Tracked {
		summary.Signals = append(summary.Signals, signals[m])
	}
	return summary, nil
}
