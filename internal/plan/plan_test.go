package plan_test

import (
	"errors"
	"testing"
	"time"

	"github.com/basket/crewdeck/internal/plan"
)

func TestSetStatus_LifecycleTransitions(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "refactor auth")
	if p.Status != plan.StatusActive {
		t.Fatalf("new plan status = %s, want active", p.Status)
	}

	if err := p.SetStatus(plan.StatusPaused); err != nil {
		t.Fatalf("active -> paused: %v", err)
	}
	if err := p.SetStatus(plan.StatusActive); err != nil {
		t.Fatalf("paused -> active: %v", err)
	}
	if err := p.SetStatus(plan.StatusCompleted); err != nil {
		t.Fatalf("active -> completed: %v", err)
	}

	// Completed is terminal.
	err := p.SetStatus(plan.StatusActive)
	if !errors.Is(err, plan.ErrInvalidTransition) {
		t.Fatalf("completed -> active: err = %v, want ErrInvalidTransition", err)
	}
}

func TestSetStatus_SameStatusIsIdempotent(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.SetStatus(plan.StatusActive); err != nil {
		t.Fatalf("active -> active should be a no-op: %v", err)
	}
}

func TestSetStatus_PausedCannotComplete(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.SetStatus(plan.StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := p.SetStatus(plan.StatusCompleted)
	if !errors.Is(err, plan.ErrInvalidTransition) {
		t.Fatalf("paused -> completed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestSetStepStatus_TransitionsAndCompletedAt(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.InsertStep(0, plan.Step{Task: "write tests"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// pending -> done skips active and must be refused.
	err := p.SetStepStatus(0, plan.StepDone)
	if !errors.Is(err, plan.ErrInvalidTransition) {
		t.Fatalf("pending -> done: err = %v, want ErrInvalidTransition", err)
	}

	if err := p.SetStepStatus(0, plan.StepActive); err != nil {
		t.Fatalf("pending -> active: %v", err)
	}
	if err := p.SetStepStatus(0, plan.StepDone); err != nil {
		t.Fatalf("active -> done: %v", err)
	}
	if p.Steps[0].CompletedAt == nil {
		t.Fatalf("done step has no completed_at")
	}

	err = p.SetStepStatus(0, plan.StepActive)
	if !errors.Is(err, plan.ErrInvalidTransition) {
		t.Fatalf("done -> active: err = %v, want ErrInvalidTransition", err)
	}
}

func TestSetStepStatus_SameStatusIsIdempotent(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.InsertStep(0, plan.Step{Task: "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.SetStepStatus(0, plan.StepPending); err != nil {
		t.Fatalf("pending -> pending should be a no-op: %v", err)
	}
}

func TestSetStepStatus_MissingStep(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	err := p.SetStepStatus(3, plan.StepActive)
	if !errors.Is(err, plan.ErrNotFound) {
		t.Fatalf("missing step: err = %v, want ErrNotFound", err)
	}
}

func TestInsertStep_ReindexesAndShiftsDependencies(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	for _, task := range []string{"design", "implement", "review"} {
		if err := p.InsertStep(len(p.Steps), plan.Step{Task: task}); err != nil {
			t.Fatalf("append %q: %v", task, err)
		}
	}
	// review depends on implement (index 1).
	p.Steps[2].DependsOn = []int{1}

	if err := p.InsertStep(1, plan.Step{Task: "spike"}); err != nil {
		t.Fatalf("insert at 1: %v", err)
	}

	wantTasks := []string{"design", "spike", "implement", "review"}
	for i, want := range wantTasks {
		if p.Steps[i].Task != want {
			t.Fatalf("step %d task = %q, want %q", i, p.Steps[i].Task, want)
		}
		if p.Steps[i].Index != i {
			t.Fatalf("step %d index = %d, want %d", i, p.Steps[i].Index, i)
		}
	}
	// implement moved from 1 to 2; review's dependency must follow it.
	if got := p.Steps[3].DependsOn; len(got) != 1 || got[0] != 2 {
		t.Fatalf("review depends_on = %v, want [2]", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate after insert: %v", err)
	}
}

func TestInsertStep_NewStepDependenciesShifted(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.InsertStep(0, plan.Step{Task: "design"}); err != nil {
		t.Fatalf("seed step: %v", err)
	}

	// The new step depends on the existing step 0, which moves to index 1.
	if err := p.InsertStep(0, plan.Step{Task: "spike", DependsOn: []int{0}}); err != nil {
		t.Fatalf("insert at 0: %v", err)
	}
	if got := p.Steps[0].DependsOn; len(got) != 1 || got[0] != 1 {
		t.Fatalf("new step depends_on = %v, want [1]", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("plan invalid after insert: %v", err)
	}

	// Dependencies below the insertion point stay put; at or past it shift.
	if err := p.InsertStep(1, plan.Step{Task: "compare", DependsOn: []int{0, 1}}); err != nil {
		t.Fatalf("insert at 1: %v", err)
	}
	if got := p.Steps[1].DependsOn; len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("mid-insert depends_on = %v, want [0 2]", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("plan invalid after mid-insert: %v", err)
	}
}

func TestInsertStep_CallerDependencySliceUntouched(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.InsertStep(0, plan.Step{Task: "design"}); err != nil {
		t.Fatalf("seed step: %v", err)
	}
	deps := []int{0}
	if err := p.InsertStep(0, plan.Step{Task: "spike", DependsOn: deps}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if deps[0] != 0 {
		t.Fatalf("caller's slice mutated: %v", deps)
	}
}

func TestInsertStep_RejectsBadInput(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	if err := p.InsertStep(5, plan.Step{Task: "x"}); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("out-of-range insert: err = %v, want ErrValidation", err)
	}
	if err := p.InsertStep(0, plan.Step{}); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("empty task: err = %v, want ErrValidation", err)
	}
	if err := p.InsertStep(0, plan.Step{Task: "x", DependsOn: []int{4}}); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("dangling dependency: err = %v, want ErrValidation", err)
	}
}

func TestRemoveStep_DropsReferencesAndReindexes(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	for _, task := range []string{"a", "b", "c"} {
		if err := p.InsertStep(len(p.Steps), plan.Step{Task: task}); err != nil {
			t.Fatalf("append %q: %v", task, err)
		}
	}
	p.Steps[2].DependsOn = []int{0, 1}

	if err := p.RemoveStep(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(p.Steps))
	}
	if p.Steps[1].Task != "c" || p.Steps[1].Index != 1 {
		t.Fatalf("step 1 = %+v, want task c index 1", p.Steps[1])
	}
	// The reference to removed step 1 is dropped; 0 stays.
	if got := p.Steps[1].DependsOn; len(got) != 1 || got[0] != 0 {
		t.Fatalf("depends_on = %v, want [0]", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate after remove: %v", err)
	}

	if err := p.RemoveStep(9); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("remove missing: err = %v, want ErrValidation", err)
	}
}

func TestOpenSession_MostRecentOpenWins(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	done := time.Now().UTC()
	p.Sessions = []plan.AgentSession{
		{SessionID: "s1", AgentType: "builder", CompletedAt: &done},
		{SessionID: "s2", AgentType: "reviewer"},
		{SessionID: "s3", AgentType: "builder"},
	}

	got := p.OpenSession("builder")
	if got == nil || got.SessionID != "s3" {
		t.Fatalf("open builder session = %+v, want s3", got)
	}
	if p.OpenSession("tester") != nil {
		t.Fatalf("expected no open tester session")
	}
}

func TestValidate_StructuralInvariants(t *testing.T) {
	p := plan.New("ws-1", "plan-1", "t")
	p.Steps = []plan.Step{
		{Index: 0, Task: "a", Status: plan.StepPending},
		{Index: 2, Task: "b", Status: plan.StepPending},
	}
	if err := p.Validate(); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("sparse indices: err = %v, want ErrValidation", err)
	}

	p.Steps[1].Index = 1
	p.Steps[1].DependsOn = []int{1}
	if err := p.Validate(); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("self dependency: err = %v, want ErrValidation", err)
	}

	p.Steps[1].DependsOn = []int{0}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	empty := plan.Plan{WorkspaceID: "ws-1"}
	if err := empty.Validate(); !errors.Is(err, plan.ErrValidation) {
		t.Fatalf("missing id: err = %v, want ErrValidation", err)
	}
}
