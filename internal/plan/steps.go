package plan

import (
	"fmt"
	"time"
)

// InsertStep inserts a step at the given position (len(p.Steps) appends) and
// reindexes. Dependencies of the new step refer to pre-insert indices and are
// shifted along with everything else.
func (p *Plan) InsertStep(at int, s Step) error {
	if at < 0 || at > len(p.Steps) {
		return fmt.Errorf("%w: insert position %d out of range [0,%d]", ErrValidation, at, len(p.Steps))
	}
	if s.Task == "" {
		return fmt.Errorf("%w: step task is empty", ErrValidation)
	}
	if s.Status == "" {
		s.Status = StepPending
	}
	for _, dep := range s.DependsOn {
		if dep < 0 || dep >= len(p.Steps) {
			return fmt.Errorf("%w: new step depends on nonexistent step %d", ErrValidation, dep)
		}
	}

	// The new step's dependencies refer to pre-insert indices too; shift
	// them into a fresh slice so the caller's is never mutated.
	if len(s.DependsOn) > 0 {
		deps := make([]int, len(s.DependsOn))
		for j, dep := range s.DependsOn {
			if dep >= at {
				dep++
			}
			deps[j] = dep
		}
		s.DependsOn = deps
	}

	p.Steps = append(p.Steps, Step{})
	copy(p.Steps[at+1:], p.Steps[at:])
	p.Steps[at] = s

	// Shift dependency references at or past the insertion point. The new
	// step at position at is already shifted.
	for i := range p.Steps {
		if i == at {
			continue
		}
		for j, dep := range p.Steps[i].DependsOn {
			if dep >= at {
				p.Steps[i].DependsOn[j] = dep + 1
			}
		}
	}
	p.reindex()
	return nil
}

// RemoveStep deletes the step at the given index, reindexes, and drops any
// dependency references to the removed step.
func (p *Plan) RemoveStep(index int) error {
	if index < 0 || index >= len(p.Steps) {
		return fmt.Errorf("%w: step %d does not exist", ErrValidation, index)
	}
	p.Steps = append(p.Steps[:index], p.Steps[index+1:]...)

	for i := range p.Steps {
		deps := p.Steps[i].DependsOn[:0]
		for _, dep := range p.Steps[i].DependsOn {
			switch {
			case dep == index:
				// Dependency on the removed step is dropped.
			case dep > index:
				deps = append(deps, dep-1)
			default:
				deps = append(deps, dep)
			}
		}
		if len(deps) == 0 {
			p.Steps[i].DependsOn = nil
		} else {
			p.Steps[i].DependsOn = deps
		}
	}
	p.reindex()
	return nil
}

// SetStepStatus applies a step status transition and stamps completed_at
// when a step moves to done.
func (p *Plan) SetStepStatus(index int, next StepStatus) error {
	if index < 0 || index >= len(p.Steps) {
		return fmt.Errorf("%w: step %d does not exist", ErrNotFound, index)
	}
	s := &p.Steps[index]
	if s.Status == next {
		return nil // idempotent
	}
	targets, ok := allowedStepTransitions[s.Status]
	if !ok {
		return fmt.Errorf("%w: step %d is %s (terminal)", ErrInvalidTransition, index, s.Status)
	}
	if _, ok := targets[next]; !ok {
		return fmt.Errorf("%w: step %d cannot move %s -> %s", ErrInvalidTransition, index, s.Status, next)
	}
	s.Status = next
	if next == StepDone {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// reindex renumbers steps densely from zero and refreshes updated_at.
func (p *Plan) reindex() {
	for i := range p.Steps {
		p.Steps[i].Index = i
	}
	p.UpdatedAt = time.Now().UTC()
}
