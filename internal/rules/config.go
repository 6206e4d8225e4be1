package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	RuleSets []RuleSet `yaml:"rule_sets"`
}

// LoadRuleSets reads threshold configuration from a YAML file. The file
// replaces the compiled-in defaults wholesale; entity types it omits are
// simply not evaluated.
func LoadRuleSets(path string) ([]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var cfg rulesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if len(cfg.RuleSets) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rule_sets", path)
	}
	for _, rs := range cfg.RuleSets {
		if err := rs.validate(); err != nil {
			return nil, err
		}
	}
	return cfg.RuleSets, nil
}

// NewEngineFromFile loads rule sets from path, falling back to the defaults
// when path is empty.
func NewEngineFromFile(path string) (*Engine, error) {
	if path == "" {
		return NewEngine(DefaultRuleSets())
	}
	sets, err := LoadRuleSets(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(sets)
}
