package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cpravetz/agentset/internal/models"
)

func (a *Agent) handleMessage(ctx context.Context, msg Message) {
	switch msg.Kind {
	case "pause":
		a.Pause()
	case "resume":
		a.Resume()
	case "abort":
		a.Abort()
	case "signal":
		a.handleSignal(msg.SignalName)
	case "user_input_response":
		a.handleUserInputResponse(msg.RequestID, msg.Content)
	case "user":
		a.handleUserMessage(ctx, msg.Content)
	}
}

func (a *Agent) handleSignal(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.Steps {
		if s.Status == models.StepPaused && s.AwaitsSignal == name {
			s.Status = models.StepPending
		}
	}
}

// handleUserInputResponse implements spec §4.2 "USER_INPUT_RESPONSE". It is
// idempotent: delivering the same response twice completes the step on the
// first delivery and is a no-op on the second (spec §8 round-trip property).
func (a *Agent) handleUserInputResponse(requestID, response string) {
	a.mu.Lock()
	stepID, ok := a.WaitingSteps[requestID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.WaitingSteps, requestID)
	var target *models.Step
	for _, s := range a.Steps {
		if s.ID == stepID {
			target = s
			break
		}
	}
	a.mu.Unlock()

	if target == nil || target.Status != models.StepWaiting {
		return
	}

	outputName := "answer"
	for name := range target.Outputs {
		outputName = name
		break
	}
	target.Result = []models.PluginOutput{{Success: true, Name: outputName, ResultType: models.ResultFinal, Result: response}}
	target.Status = models.StepCompleted
	a.log.StepPhase(target.ID, string(models.StepWaiting), string(models.StepCompleted), "user input delivered")
}

// handleUserMessage implements spec §4.2 "userMessage". ERROR/COMPLETED
// agents reset to RUNNING; simple-conversational messages get a direct
// Brain reply appended to the conversation; everything else synthesizes a
// new ACCOMPLISH step.
func (a *Agent) handleUserMessage(ctx context.Context, content string) {
	a.mu.Lock()
	if a.Status == models.AgentError || a.Status == models.AgentCompleted {
		a.Status = models.AgentRunning
		a.ReflectionDone = false
	}
	a.Conversation = append(a.Conversation, models.ConversationTurn{Role: "user", Content: content, Timestamp: time.Now()})
	a.mu.Unlock()

	if isSimpleConversational(content) {
		if a.brain == nil {
			return
		}
		reply, err := a.brain.Converse(ctx, content)
		if err != nil {
			a.log.Warn("conversational reply failed", map[string]interface{}{"error": err.Error()})
			return
		}
		a.mu.Lock()
		a.Conversation = append(a.Conversation, models.ConversationTurn{Role: "assistant", Content: reply, Timestamp: time.Now()})
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	nextNo := len(a.Steps) + 1
	s := models.NewStep(fmt.Sprintf("%s-step-%d", a.ID, nextNo), a.MissionID, a.ID, models.VerbAccomplish, nextNo)
	s.Description = content
	s.InputValues["goal"] = models.InputValue{InputName: "goal", Value: content, ValueType: models.ValueString}
	a.Steps = append(a.Steps, s)
	a.mu.Unlock()

	if a.registry != nil {
		a.registry.Register(s.ID, models.StepLocation{AgentID: a.ID})
	}
}

// Simple-conversational classifier (spec §4.2.2).
var (
	simplePatterns = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|bye|goodbye|yes|no|ok|okay|sure|help|what can you do)\b`)
	taskVerbs      = regexp.MustCompile(`(?i)\b(create|build|make|generate|write|develop|implement|design|analyze|research)\b`)
	taskPhrases    = regexp.MustCompile(`(?i)\b(can you|could you|i want to|i need to|i'd like to)\b`)
)

// isSimpleConversational classifies content per spec §4.2.2: it matches a
// fixed greeting/thanks/farewell/affirmation/help pattern, or it is short
// (<50 chars) and contains no task-suggesting verb or phrasing.
func isSimpleConversational(content string) bool {
	trimmed := strings.TrimSpace(content)
	if simplePatterns.MatchString(trimmed) {
		return true
	}
	if len(trimmed) >= 50 {
		return false
	}
	if taskVerbs.MatchString(trimmed) || taskPhrases.MatchString(trimmed) {
		return false
	}
	return true
}
