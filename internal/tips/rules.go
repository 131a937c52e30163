package tips

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
)

// Rule is one declarative predicate + template pair. Rules are
// data: the engine never executes anything rule-supplied beyond
// selecting a named metric, comparing it to a threshold, and
// rendering text templates.
type Rule struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Priority Priority `yaml:"priority"`

	// Metric names a selector from the fixed registry below.
	Metric string `yaml:"metric"`
	// Op is "above" or "below".
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`

	// MinSessions overrides the engine-wide sample-size floor
	// when non-zero.
	MinSessions int `yaml:"min_sessions"`

	Observation     string `yaml:"observation"`
	Recommendation  string `yaml:"recommendation"`
	ExpectedBenefit string `yaml:"expected_benefit"`
}

// scope is the data visible to rule templates.
type scope struct {
	Value       float64
	Percent     string // Value rendered as a whole percentage
	Sessions    int
	ToolCalls   int
	Errors      int
	Delegations int
	UniqueTools int
	PrevUnique  int
	Minutes     int
	BashCalls   int
}

// selector extracts one comparable value from the inputs. The
// second return is false when the value is undefined for these
// inputs (no tool calls, no predecessor window) and the rule
// cannot fire.
type selector func(in Inputs) (float64, bool)

// selectors is the fixed registry of metric names rules may
// reference.
var selectors = map[string]selector{
	"bash_share": func(in Inputs) (float64, bool) {
		if in.Current.TotalToolCalls == 0 {
			return 0, false
		}
		bash := in.Current.ToolCalls["bash"]
		return float64(bash) / float64(in.Current.TotalToolCalls), true
	},
	"delegation_ratio": func(in Inputs) (float64, bool) {
		return in.Current.AvgDelegationRatio, true
	},
	"error_rate": func(in Inputs) (float64, bool) {
		return in.Current.AvgErrorRate, true
	},
	"tool_diversity": func(in Inputs) (float64, bool) {
		return in.Current.AvgToolDiversity, true
	},
	"unique_tools_delta": func(in Inputs) (float64, bool) {
		if in.Previous == nil {
			return 0, false
		}
		return float64(in.Current.UniqueTools() - in.Previous.UniqueTools()), true
	},
	"avg_session_minutes": func(in Inputs) (float64, bool) {
		return in.Current.AvgSessionDuration / 60, true
	},
}

// DefaultRules is the built-in ordered rule set. Declaration
// order breaks priority ties during category dedup.
var DefaultRules = []Rule{
	{
		Name:            "low_delegation",
		Category:        "delegation",
		Priority:        PriorityHigh,
		Metric:          "delegation_ratio",
		Op:              "below",
		Threshold:       0.05,
		Observation:     "Your delegation ratio is {{.Percent}} ({{.Delegations}} delegations in {{.Sessions}} sessions)",
		Recommendation:  "Break down complex problems into smaller tasks and delegate to specialized agents",
		ExpectedBenefit: "Better results through specialized expertise and reduced cognitive load",
	},
	{
		Name:            "high_error_rate",
		Category:        "error_handling",
		Priority:        PriorityHigh,
		Metric:          "error_rate",
		Op:              "above",
		Threshold:       0.15,
		Observation:     "Your error rate is {{.Percent}} ({{.Errors}} errors across {{.Sessions}} sessions)",
		Recommendation:  "When you hit errors, try asking for alternative approaches instead of retrying the same path",
		ExpectedBenefit: "Faster problem resolution and less frustration",
	},
	{
		Name:            "high_bash_usage",
		Category:        "tool_usage",
		Priority:        PriorityMedium,
		Metric:          "bash_share",
		Op:              "above",
		Threshold:       0.30,
		Observation:     "You use bash for {{.Percent}} of tool calls ({{.BashCalls}} of {{.ToolCalls}})",
		Recommendation:  "Try using grep for searching files and glob for finding files instead of bash commands",
		ExpectedBenefit: "Faster file operations with specialized tools",
	},
	{
		Name:            "declining_tool_diversity",
		Category:        "tool_usage",
		Priority:        PriorityMedium,
		Metric:          "unique_tools_delta",
		Op:              "below",
		Threshold:       0,
		Observation:     "You're using fewer distinct tools than last window ({{.UniqueTools}} vs {{.PrevUnique}})",
		Recommendation:  "Explore the full toolkit - try using tools you haven't used recently",
		ExpectedBenefit: "Increased effectiveness by choosing the right tool for each task",
	},
	{
		Name:            "long_sessions",
		Category:        "task_management",
		Priority:        PriorityMedium,
		Metric:          "avg_session_minutes",
		Op:              "above",
		Threshold:       60,
		Observation:     "Your average session runs {{.Minutes}} minutes ({{.Sessions}} sessions)",
		Recommendation:  "Break work into smaller, focused tasks for better concentration and faster iterations",
		ExpectedBenefit: "Better focus and more frequent completion milestones",
	},
}

// Engine is the rule-based Generator. Rules are evaluated
// independently; all that fire are emitted after per-category
// dedup.
type Engine struct {
	rules       []Rule
	minSessions int
	now         func() time.Time
	newID       func() string
}

// NewEngine builds an Engine over the given ordered rules.
// minSessions is the engine-wide sample-size floor applied to
// rules that do not declare their own.
func NewEngine(rules []Rule, minSessions int) *Engine {
	return &Engine{
		rules:       rules,
		minSessions: minSessions,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Generate evaluates every rule against the inputs. The result is
// deduplicated by category (highest priority wins, declaration
// order breaks ties) and sorted by priority descending then
// category ascending.
func (e *Engine) Generate(_ context.Context, in Inputs) ([]Tip, error) {
	if in.Current == nil {
		return nil, nil
	}

	byCategory := make(map[string]Tip)
	var categories []string

	for _, rule := range e.rules {
		fired, tip, err := e.eval(rule, in)
		if err != nil {
			return nil, fmt.Errorf("evaluating rule %s: %w", rule.Name, err)
		}
		if !fired {
			continue
		}
		prev, ok := byCategory[rule.Category]
		if !ok {
			byCategory[rule.Category] = tip
			categories = append(categories, rule.Category)
			continue
		}
		if tip.Priority.rank() < prev.Priority.rank() {
			byCategory[rule.Category] = tip
		}
	}

	out := make([]Tip, 0, len(categories))
	for _, c := range categories {
		out = append(out, byCategory[c])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.rank() != out[j].Priority.rank() {
			return out[i].Priority.rank() < out[j].Priority.rank()
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// eval runs a single rule, returning whether it fired and the
// rendered tip.
func (e *Engine) eval(rule Rule, in Inputs) (bool, Tip, error) {
	floor := rule.MinSessions
	if floor == 0 {
		floor = e.minSessions
	}
	if in.Current.SessionCount < floor {
		return false, Tip{}, nil
	}

	sel, ok := selectors[rule.Metric]
	if !ok {
		return false, Tip{}, fmt.Errorf("unknown metric %q", rule.Metric)
	}
	value, defined := sel(in)
	if !defined {
		return false, Tip{}, nil
	}

	switch rule.Op {
	case "above":
		if value <= rule.Threshold {
			return false, Tip{}, nil
		}
	case "below":
		if value >= rule.Threshold {
			return false, Tip{}, nil
		}
	default:
		return false, Tip{}, fmt.Errorf("unknown op %q", rule.Op)
	}

	sc := e.buildScope(value, in)
	tip := Tip{
		ID:          e.newID(),
		SubjectID:   in.SubjectID,
		GeneratedAt: e.now().UTC(),
		Category:    rule.Category,
		Priority:    rule.Priority,
		TriggeredBy: in.SessionIDs,
	}
	var err error
	if tip.Observation, err = render(rule.Observation, sc); err != nil {
		return false, Tip{}, err
	}
	if tip.Recommendation, err = render(rule.Recommendation, sc); err != nil {
		return false, Tip{}, err
	}
	if tip.ExpectedBenefit, err = render(rule.ExpectedBenefit, sc); err != nil {
		return false, Tip{}, err
	}
	return true, tip, nil
}

func (e *Engine) buildScope(value float64, in Inputs) scope {
	cur := in.Current
	sc := scope{
		Value:       value,
		Percent:     fmt.Sprintf("%.0f%%", value*100),
		Sessions:    cur.SessionCount,
		ToolCalls:   cur.TotalToolCalls,
		Errors:      cur.TotalErrors,
		Delegations: cur.TotalDelegations,
		UniqueTools: cur.UniqueTools(),
		Minutes:     int(cur.AvgSessionDuration / 60),
		BashCalls:   cur.ToolCalls["bash"],
	}
	if in.Previous != nil {
		sc.PrevUnique = in.Previous.UniqueTools()
	}
	return sc
}

// render executes a rule template against the scope.
func render(tmpl string, sc scope) (string, error) {
	t, err := template.New("tip").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, sc); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return b.String(), nil
}
