package aiexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/llmcap"
)

const (
	confidenceThreshold = 50
	maxSameState         = 3
	questionTimeout      = 60 * time.Second
)

// conversationalDecision mirrors decision but replaces the deterministic
// action grammar with a confidence score, per §4.I's Conversational variant.
type conversationalDecision struct {
	Thinking   string         `json:"thinking"`
	Action     decisionAction `json:"action"`
	Confidence int            `json:"confidence"`
	Complete   bool           `json:"complete"`
	Result     string         `json:"result"`
}

// QuestionEvent is emitted when the agent's confidence drops below
// confidenceThreshold or it detects it is stuck; the caller must answer
// within questionTimeout or the task fails.
type QuestionEvent struct {
	TaskID    string
	Prompt    string
	Emitted   time.Time
	AnswerCh  chan string
}

// AnswerFunc blocks for up to questionTimeout waiting for a human answer to
// a QuestionEvent, returning the answer text or an error on timeout.
type AnswerFunc func(ctx context.Context, q QuestionEvent) (string, error)

func parseConversationalDecision(text string) conversationalDecision {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return conversationalDecision{Action: decisionAction{Type: "wait", Value: "1000"}, Confidence: 100}
	}
	var d conversationalDecision
	if err := json.Unmarshal([]byte(match), &d); err != nil || d.Action.Type == "" {
		return conversationalDecision{Action: decisionAction{Type: "wait", Value: "1000"}, Confidence: 100}
	}
	return d
}

// stateSignature is the URL + sorted ref-set fingerprint used to detect the
// agent being stuck across maxSameState consecutive observations.
func stateSignature(url string, elements []browsercap.ElementRef) string {
	refs := make([]string, len(elements))
	for i, el := range elements {
		refs[i] = el.Ref
	}
	sort.Strings(refs)
	return url + "|" + strings.Join(refs, ",")
}

// RunConversational drives task with the confidence-scored variant: any
// decision under confidenceThreshold, or maxSameState consecutive identical
// observations, escalates to a blocking question before continuing.
func (e *Executor) RunConversational(ctx context.Context, task *domain.AITask, llm llmcap.Capability, sessionID string, ask AnswerFunc) error {
	history := make([]stepSummary, 0, 5)
	lastSignatures := make([]string, 0, maxSameState)
	maxSteps := task.StepBudget
	if maxSteps <= 0 {
		maxSteps = 30
	}

	for step := 0; step < maxSteps; step++ {
		if e.store.StopRequested(task.ID) {
			return e.transition(task, domain.TaskStopped, "")
		}

		screenshot, err := e.capability.Screenshot(ctx, sessionID, false)
		if err != nil {
			return e.fail(task, err)
		}
		snapshot, err := e.capability.ExtractElementsWithRefs(ctx, sessionID)
		if err != nil {
			return e.fail(task, err)
		}
		refs := make(map[string]browsercap.ElementRef, len(snapshot.Elements))
		for _, el := range snapshot.Elements {
			refs[el.Ref] = el
		}

		currentURL, _ := e.capability.CurrentURL(ctx, sessionID)
		sig := stateSignature(currentURL, snapshot.Elements)
		lastSignatures = append(lastSignatures, sig)
		if len(lastSignatures) > maxSameState {
			lastSignatures = lastSignatures[len(lastSignatures)-maxSameState:]
		}
		stuck := len(lastSignatures) == maxSameState && allEqual(lastSignatures)

		currentTitle, _ := e.capability.CurrentTitle(ctx, sessionID)
		prompt := buildPrompt(task.Instruction, currentURL, currentTitle, step, history, snapshot.Elements, e.cfg.MaxElementsInPrompt)

		result, err := llm.AnalyzeImage(ctx, screenshot, "image/png", prompt)
		if err != nil {
			return e.fail(task, err)
		}
		task.InputTokens += result.Usage.InputTokens
		task.OutputTokens += result.Usage.OutputTokens

		d := parseConversationalDecision(result.Text)

		if stuck || d.Confidence < confidenceThreshold {
			reason := fmt.Sprintf("low confidence (%d)", d.Confidence)
			if stuck {
				reason = "appears stuck (same state repeated)"
			}
			if ask == nil {
				return e.fail(task, domain.NewInternalError("blocking question required but no answer channel configured: "+reason, nil))
			}
			qctx, cancel := context.WithTimeout(ctx, questionTimeout)
			answer, err := ask(qctx, QuestionEvent{TaskID: task.ID, Prompt: reason, Emitted: time.Now()})
			cancel()
			if err != nil {
				return e.fail(task, fmt.Errorf("question unanswered: %w", err))
			}
			history = append(history, stepSummary{Action: "question", Target: answer, Success: true})
			lastSignatures = nil
			continue
		}

		if d.Complete {
			task.Result = d.Result
			return e.transition(task, domain.TaskCompleted, d.Result)
		}

		success, _, target := e.act(ctx, sessionID, decision{Thinking: d.Thinking, Action: d.Action}, refs)
		history = append(history, stepSummary{Action: d.Action.Type, Target: target, Success: success})
		if len(history) > 5 {
			history = history[len(history)-5:]
		}

		task.StepsExecuted++
		_ = e.store.UpdateAITask(task)
		time.Sleep(e.cfg.StepSleep)
	}

	return e.transition(task, domain.TaskCompleted, fmt.Sprintf("Reached maximum steps (%d)", maxSteps))
}

func allEqual(items []string) bool {
	for i := 1; i < len(items); i++ {
		if items[i] != items[0] {
			return false
		}
	}
	return true
}
