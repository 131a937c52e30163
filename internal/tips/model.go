package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/amplihq/usagelens/internal/growth"
)

// validAgents lists the agent CLIs the model generator knows how
// to invoke directly. Anything else goes through Command.
var validAgents = map[string]bool{
	"claude": true,
	"codex":  true,
	"gemini": true,
}

// runFunc executes a prepared command and returns its stdout,
// substitutable by tests.
type runFunc func(ctx context.Context, name string, args []string, stdin string) ([]byte, error)

// ModelGenerator produces tips by prompting an agent CLI with the
// subject's metrics. It implements Generator; on any failure it
// degrades to the fallback generator so tip generation never
// hard-fails on a missing or misbehaving agent.
type ModelGenerator struct {
	// Agent is one of claude, codex, gemini.
	Agent string
	// Command, when set, overrides Agent with a custom command
	// line (parsed shell-style, prompt passed on stdin).
	Command string
	// Fallback handles generation when the agent is unavailable
	// or returns unusable output. Typically the rule Engine.
	Fallback Generator

	run runFunc
}

// NewModelGenerator wires a ModelGenerator with the real
// subprocess runner.
func NewModelGenerator(agent, command string, fallback Generator) *ModelGenerator {
	return &ModelGenerator{
		Agent:    agent,
		Command:  command,
		Fallback: fallback,
		run:      runCommand,
	}
}

// Generate prompts the agent and parses its response into tips.
func (g *ModelGenerator) Generate(ctx context.Context, in Inputs) ([]Tip, error) {
	out, err := g.invoke(ctx, buildPrompt(in))
	if err == nil {
		tips, perr := parseModelTips(out, in)
		if perr == nil {
			return tips, nil
		}
		err = perr
	}

	if g.Fallback == nil {
		return nil, err
	}
	log.Printf("model tip generation failed, using rules: %v", err)
	return g.Fallback.Generate(ctx, in)
}

// invoke resolves the agent command line and runs it with the
// prompt on stdin.
func (g *ModelGenerator) invoke(ctx context.Context, prompt string) ([]byte, error) {
	run := g.run
	if run == nil {
		run = runCommand
	}

	if g.Command != "" {
		argv, err := shlex.Split(g.Command)
		if err != nil {
			return nil, fmt.Errorf("parsing agent command: %w", err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("empty agent command")
		}
		return run(ctx, argv[0], argv[1:], prompt)
	}

	if !validAgents[g.Agent] {
		return nil, fmt.Errorf("unsupported agent: %s", g.Agent)
	}
	path, err := exec.LookPath(g.Agent)
	if err != nil {
		return nil, fmt.Errorf("%s CLI not found: %w", g.Agent, err)
	}

	switch g.Agent {
	case "codex":
		return run(ctx, path, []string{"exec", "--json", "-"}, prompt)
	case "gemini":
		return run(ctx, path, []string{"-p", prompt}, "")
	default:
		return run(ctx, path, []string{"-p", "--output-format", "json"}, prompt)
	}
}

// runCommand is the production runFunc.
func runCommand(ctx context.Context, name string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// buildPrompt renders the inputs into the generation prompt. The
// agent is asked for a strict JSON array so the response parses
// without heuristics.
func buildPrompt(in Inputs) string {
	var b strings.Builder
	b.WriteString("You are reviewing one person's AI-assistant usage metrics.\n")
	b.WriteString("Suggest at most three concrete improvements.\n\n")

	cur := in.Current
	fmt.Fprintf(&b, "Window %s (%s):\n", cur.Key, cur.Granularity)
	fmt.Fprintf(&b, "- sessions: %d\n", cur.SessionCount)
	fmt.Fprintf(&b, "- avg tool diversity (bits): %.2f\n", cur.AvgToolDiversity)
	fmt.Fprintf(&b, "- avg error rate: %.3f\n", cur.AvgErrorRate)
	fmt.Fprintf(&b, "- avg delegation ratio: %.3f\n", cur.AvgDelegationRatio)
	fmt.Fprintf(&b, "- avg session duration: %.0fs\n", cur.AvgSessionDuration)
	names := make([]string, 0, 5)
	for _, t := range cur.TopTools(5) {
		names = append(names, t.Name)
	}
	fmt.Fprintf(&b, "- top tools: %s\n", strings.Join(names, ", "))

	for _, m := range sortedSignals(in) {
		sig := in.Signals[growth.Metric(m)]
		fmt.Fprintf(&b, "- %s trend: %s", m, sig.Direction)
		if sig.RecentChange != nil {
			fmt.Fprintf(&b, " (%+.0f%% vs previous window)", *sig.RecentChange)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with ONLY a JSON array. Each element:\n")
	b.WriteString(`{"category": "...", "priority": "high|medium|low", ` +
		`"observation": "...", "recommendation": "...", "expected_benefit": "..."}` + "\n")
	return b.String()
}

func sortedSignals(in Inputs) []string {
	keys := make([]string, 0, len(in.Signals))
	for m := range in.Signals {
		keys = append(keys, string(m))
	}
	// Deterministic prompt ordering.
	sort.Strings(keys)
	return keys
}

// parseModelTips extracts tips from agent output. Claude's JSON
// envelope wraps the text in a "result" field; raw array output
// is accepted as-is. The array may also be embedded in
// surrounding prose.
func parseModelTips(out []byte, in Inputs) ([]Tip, error) {
	text := string(out)
	if env := gjson.Get(text, "result"); env.Exists() && env.Str != "" {
		text = env.Str
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in agent output")
	}

	var raw []struct {
		Category        string `json:"category"`
		Priority        string `json:"priority"`
		Observation     string `json:"observation"`
		Recommendation  string `json:"recommendation"`
		ExpectedBenefit string `json:"expected_benefit"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parsing agent tips: %w", err)
	}

	now := time.Now().UTC()
	tips := make([]Tip, 0, len(raw))
	for _, r := range raw {
		p := Priority(r.Priority)
		if p.rank() > PriorityLow.rank() {
			p = PriorityLow
		}
		if r.Category == "" || r.Recommendation == "" {
			continue
		}
		tips = append(tips, Tip{
			ID:              uuid.NewString(),
			SubjectID:       in.SubjectID,
			GeneratedAt:     now,
			Category:        r.Category,
			Priority:        p,
			Observation:     r.Observation,
			Recommendation:  r.Recommendation,
			ExpectedBenefit: r.ExpectedBenefit,
			TriggeredBy:     in.SessionIDs,
		})
	}
	return tips, nil
}
