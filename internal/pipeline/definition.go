package pipeline

import (
	"errors"
	"fmt"

	"github.com/jonathan/reel-forge/internal/stage"
)

// Step is one registered stage and the policy it runs under.
type Step struct {
	Stage  stage.Stage
	Policy stage.Policy
}

// Definition is an ordered, linear list of steps.
type Definition struct {
	Name  string
	Steps []Step
}

// StageIDs returns the stage ids in execution order.
func (d *Definition) StageIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.Stage.Descriptor().ID
	}
	return ids
}

// Dependencies returns the distinct dependency names used by the steps, in
// first-use order.
func (d *Definition) Dependencies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range d.Steps {
		dep := s.Stage.Descriptor().Dependency
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}

// Validate checks that the definition can be run: at least one step, unique
// stage ids and a parseable policy for each.
func (d *Definition) Validate() error {
	if d == nil || len(d.Steps) == 0 {
		return errors.New("pipeline has no steps")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Stage == nil {
			return fmt.Errorf("pipeline %s: step %d has no stage", d.Name, i)
		}
		id := s.Stage.Descriptor().ID
		if id == "" {
			return fmt.Errorf("pipeline %s: step %d has no id", d.Name, i)
		}
		if seen[id] {
			return fmt.Errorf("pipeline %s: duplicate stage id %q", d.Name, id)
		}
		seen[id] = true
		if _, err := stage.ParseFailurePolicy(string(s.Policy.OnFailure)); err != nil {
			return fmt.Errorf("pipeline %s: stage %s: %w", d.Name, id, err)
		}
	}
	return nil
}
