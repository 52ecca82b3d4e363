package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type ruleSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Front   bool   `yaml:"front"`
}

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadRulesFile reads custom normalization rules from a YAML file. Rules
// marked front take priority over the built-in list; the rest run after
// it. Loading happens at startup only; the resulting Normalizer is
// immutable under traffic.
func LoadRulesFile(path string) (front, back []Rule, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize: read rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, nil, fmt.Errorf("normalize: parse rules file: %w", err)
	}

	for i, spec := range rf.Rules {
		name := strings.ToUpper(strings.TrimSpace(spec.Name))
		if name == "" {
			return nil, nil, fmt.Errorf("normalize: rule %d has no name", i)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("normalize: rule %q: %w", name, err)
		}
		rule := Rule{Name: name, Pattern: re}
		if spec.Front {
			front = append(front, rule)
		} else {
			back = append(back, rule)
		}
	}
	return front, back, nil
}
