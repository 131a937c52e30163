package tips

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk rule set layout.
type ruleFile struct {
	// Replace drops the built-in rules entirely instead of
	// appending to them.
	Replace bool   `yaml:"replace"`
	Rules   []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file and returns the effective
// ordered rule set. File rules are appended after the built-ins
// unless the file sets replace: true.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	for i, r := range f.Rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
	}

	if f.Replace {
		return f.Rules, nil
	}
	return append(append([]Rule(nil), DefaultRules...), f.Rules...), nil
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("missing name")
	}
	if r.Category == "" {
		return fmt.Errorf("missing category")
	}
	if r.Priority.rank() > PriorityLow.rank() {
		return fmt.Errorf("unknown priority %q", r.Priority)
	}
	if _, ok := selectors[r.Metric]; !ok {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if r.Op != "above" && r.Op != "below" {
		return fmt.Errorf("unknown op %q", r.Op)
	}
	return nil
}
