package trigger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var knownOperators = map[string]bool{
	"==": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true,
	"IN": true, "NOT IN": true,
}

type triggerFile struct {
	Triggers []Definition `yaml:"triggers"`
}

// LoadTriggers reads trigger definitions from a YAML file. A missing file is
// not an error: it yields an empty set.
func LoadTriggers(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read triggers: %w", err)
	}

	var file triggerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse triggers: %w", err)
	}

	seen := make(map[string]bool)
	for i := range file.Triggers {
		def := &file.Triggers[i]
		applyDefaults(def)
		if err := validateTrigger(def); err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate trigger id %q", def.ID)
		}
		seen[def.ID] = true
	}
	return file.Triggers, nil
}

func applyDefaults(def *Definition) {
	for i := range def.Conditions {
		if def.Conditions[i].Type == "" {
			def.Conditions[i].Type = ConditionField
		}
	}
}

func validateTrigger(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("missing id")
	}
	for i, cond := range def.Conditions {
		switch cond.Type {
		case ConditionField:
			if cond.Field == "" {
				return fmt.Errorf("condition %d: missing field", i)
			}
			if !knownOperators[cond.Operator] {
				return fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
			}
		case ConditionExpression:
			if cond.Expression == "" {
				return fmt.Errorf("condition %d: missing expression", i)
			}
		default:
			return fmt.Errorf("condition %d: unknown type %q", i, cond.Type)
		}
	}
	for i, action := range def.Actions {
		if action.Skill == "" {
			return fmt.Errorf("action %d: missing skill", i)
		}
		if action.DelayMs < 0 {
			return fmt.Errorf("action %d: negative delay", i)
		}
	}
	return nil
}
