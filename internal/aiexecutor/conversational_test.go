package aiexecutor

import (
	"context"
	"testing"

	"github.com/brainzlab/vision/internal/domain"
)

func TestRunConversationalCompletesOnHighConfidence(t *testing.T) {
	cap := &fakeCapability{}
	exec, st := newExecutor(t, cap)

	task := st.CreateAITask(&domain.AITask{
		ProjectID:   "proj1",
		Instruction: "buy the item",
		StepBudget:  10,
	})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"done","action":{"type":"wait","value":"0"},"confidence":90,"complete":true,"result":"purchased"}`,
	}}

	err := exec.RunConversational(context.Background(), task, llm, "sess1", nil)
	if err != nil {
		t.Fatalf("RunConversational: %v", err)
	}

	reloaded, err := st.GetAITask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reloaded.Status != domain.TaskCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
	if reloaded.Result != "purchased" {
		t.Fatalf("expected result %q, got %q", "purchased", reloaded.Result)
	}
}

func TestRunConversationalEscalatesOnLowConfidence(t *testing.T) {
	cap := &fakeCapability{}
	exec, st := newExecutor(t, cap)

	task := st.CreateAITask(&domain.AITask{
		ProjectID:   "proj1",
		Instruction: "buy the item",
		StepBudget:  5,
	})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"unsure","action":{"type":"click","ref":"BTN1"},"confidence":10,"complete":false}`,
		`{"thinking":"done","action":{"type":"wait","value":"0"},"confidence":90,"complete":true,"result":"ok after help"}`,
	}}

	var gotPrompt string
	ask := func(ctx context.Context, q QuestionEvent) (string, error) {
		gotPrompt = q.Prompt
		return "click the highlighted button", nil
	}

	err := exec.RunConversational(context.Background(), task, llm, "sess1", ask)
	if err != nil {
		t.Fatalf("RunConversational: %v", err)
	}
	if gotPrompt == "" {
		t.Fatalf("expected ask to be invoked with a non-empty prompt")
	}

	reloaded, err := st.GetAITask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reloaded.Status != domain.TaskCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
}

func TestRunConversationalFailsWithoutAnswerFunc(t *testing.T) {
	cap := &fakeCapability{}
	exec, st := newExecutor(t, cap)

	task := st.CreateAITask(&domain.AITask{
		ProjectID:   "proj1",
		Instruction: "buy the item",
		StepBudget:  5,
	})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"unsure","action":{"type":"click","ref":"BTN1"},"confidence":10,"complete":false}`,
	}}

	err := exec.RunConversational(context.Background(), task, llm, "sess1", nil)
	if err == nil {
		t.Fatalf("expected an error when no answer channel is configured")
	}

	reloaded, getErr := st.GetAITask(task.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if reloaded.Status != domain.TaskError {
		t.Fatalf("expected error status when no answer channel is configured, got %s", reloaded.Status)
	}
}

func TestRunConversationalFailsWhenAnswerErrors(t *testing.T) {
	cap := &fakeCapability{}
	exec, st := newExecutor(t, cap)

	task := st.CreateAITask(&domain.AITask{
		ProjectID:   "proj1",
		Instruction: "buy the item",
		StepBudget:  5,
	})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"unsure","action":{"type":"click","ref":"BTN1"},"confidence":10,"complete":false}`,
	}}

	// A real AnswerFunc blocks on ctx.Done() until questionTimeout elapses;
	// this fake reports the same outcome without the real 60s wait.
	ask := func(ctx context.Context, q QuestionEvent) (string, error) {
		return "", context.DeadlineExceeded
	}

	err := exec.RunConversational(context.Background(), task, llm, "sess1", ask)
	if err == nil {
		t.Fatalf("expected an error when the answer function itself errors")
	}

	reloaded, getErr := st.GetAITask(task.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if reloaded.Status != domain.TaskError {
		t.Fatalf("expected error status after an unanswered question, got %s", reloaded.Status)
	}
}

func TestStateSignatureFormat(t *testing.T) {
	if stateSignature("https://x", nil) != "https://x|" {
		t.Fatalf("expected empty ref list to produce a bare URL signature")
	}
}

func TestAllEqualDetectsMixedSlice(t *testing.T) {
	if allEqual([]string{"a", "a", "b"}) {
		t.Fatalf("expected a mismatched slice to not be all-equal")
	}
	if !allEqual([]string{"a", "a", "a"}) {
		t.Fatalf("expected a uniform slice to be all-equal")
	}
}
