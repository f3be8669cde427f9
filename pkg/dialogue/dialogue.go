// Package dialogue implements the Dialogue Engine (spec.md §4.G): a
// task-runtime-hosted operation driving chat, discussion, and debate
// mode dialogues to completion, with streaming emission, cooperative
// cancellation, and deadline handling. The turn loop, per-agent
// independent message ledgers, and "[SYSTEM ROLE INSTRUCTIONS] ...
// [END ROLE INSTRUCTIONS]" prompt wrapping are grounded on the teacher's
// pkg/tui/dual_session.go runConversation, generalised from a two-agent
// TUI session into the three shared-skeleton modes the spec names.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NoneadChina/dialoguecore/pkg/llm"
	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
	"github.com/NoneadChina/dialoguecore/pkg/taskruntime"
)

// Mode selects which of the three shared-skeleton dialogues to run.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeDiscussion Mode = "discussion"
	ModeDebate     Mode = "debate"
)

// AgentSpec names one participant: its role label, its Provider Client,
// the model to call, and its system prompt.
type AgentSpec struct {
	Role         string
	Client       llm.Client
	Model        string
	SystemPrompt string
}

// Spec describes one dialogue run submitted to RunDialogue.
//
//   - chat:       Agents[0] only; UserInput supplies each turn.
//   - discussion: Agents[0], Agents[1] alternate; Agents[2] summarises.
//   - debate:     Agents[0] (pro), Agents[1] (con) alternate per topic;
//     Agents[2] judges each topic. Topics runs serially,
//     sharing one deadline.
type Spec struct {
	Mode              Mode
	Topics            []string
	Agents            []AgentSpec
	Rounds            int
	Temperature       float64
	TimeLimit         time.Duration // 0 = no deadline
	YieldFullResponse bool
	// UserInput is read once per chat-mode iteration; the engine
	// suspends awaiting it. Unused by discussion/debate.
	UserInput <-chan string
}

// StatusPayload accompanies a "status" event.
type StatusPayload struct {
	Role     string
	Provider string
	Model    string
}

// DeltaPayload accompanies a "stream-delta" event.
type DeltaPayload struct {
	Role string
	Text string
}

// TurnCompletePayload accompanies a "turn-complete" event.
type TurnCompletePayload struct {
	Role string
	Text string
}

// ErrorPayload accompanies an "error" event.
type ErrorPayload struct {
	Kind    errkind.Kind
	Message string
}

// FinishedPayload accompanies the terminal "finished" event.
type FinishedPayload struct {
	Reason string // completed, cancelled, deadline, error
}

// ExpectedTurnCompletes returns the number of turn-complete events a
// dialogue completing without error should produce, per spec.md §8
// invariant 2.
func ExpectedTurnCompletes(mode Mode, rounds, topicCount int) int {
	switch mode {
	case ModeChat:
		return rounds
	case ModeDiscussion:
		return 2*rounds + 1
	case ModeDebate:
		if topicCount == 0 {
			topicCount = 1
		}
		return (2*rounds + 1) * topicCount
	default:
		return 0
	}
}

// RunDialogue submits spec to rt and returns its Handle.
func RunDialogue(rt *taskruntime.Runtime, spec Spec) *taskruntime.Handle {
	return rt.Submit(buildTask(spec))
}

func buildTask(spec Spec) taskruntime.Task {
	return func(ctx context.Context, emit func(taskruntime.Event)) error {
		switch spec.Mode {
		case ModeChat:
			return runChat(ctx, emit, spec)
		case ModeDiscussion:
			return runDiscussion(ctx, emit, spec)
		case ModeDebate:
			return runDebate(ctx, emit, spec)
		default:
			err := fmt.Errorf("dialogue: unknown mode %q", spec.Mode)
			emit(taskruntime.Event{Kind: "error", Payload: ErrorPayload{Kind: errkind.BadRequest, Message: err.Error()}})
			emitFinished(emit, "error")
			return err
		}
	}
}

func emitFinished(emit func(taskruntime.Event), reason string) {
	emit(taskruntime.Event{Kind: "finished", Payload: FinishedPayload{Reason: reason}})
}

// roleWrap applies the teacher's "[SYSTEM ROLE INSTRUCTIONS] ... [END
// ROLE INSTRUCTIONS]" convention (pkg/tui/dual_session.go) to an agent's
// system prompt.
func roleWrap(prompt string) string {
	return "[SYSTEM ROLE INSTRUCTIONS]\n" + prompt + "\n[END ROLE INSTRUCTIONS]\n"
}

// deadlineOf returns the absolute deadline for spec, or the zero Time if
// spec.TimeLimit is unset.
func deadlineOf(spec Spec) time.Time {
	if spec.TimeLimit <= 0 {
		return time.Time{}
	}
	return time.Now().Add(spec.TimeLimit)
}

// pastDeadline reports whether now has passed deadline; a zero deadline
// never expires.
func pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// perCallContext bounds ctx by whatever remains of deadline, without
// exceeding ctx's own cancellation.
func perCallContext(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// runTurn asks one agent for a completion, streaming deltas to emit and
// returning the final text. Per spec.md §4.G, a stream that is aborted
// by cancellation before its done sentinel arrives contributes no
// turn-complete event and its partial text is discarded.
func runTurn(ctx context.Context, emit func(taskruntime.Event), deadline time.Time, agent AgentSpec, messages []llm.Message, temperature float64, yieldFull bool) (string, error) {
	emit(taskruntime.Event{Kind: "status", Payload: StatusPayload{Role: agent.Role, Model: agent.Model}})

	callCtx, cancel := perCallContext(ctx, deadline)
	defer cancel()

	deltas, errs := agent.Client.ChatCompleteStream(callCtx, messages, agent.Model, temperature, yieldFull)

	var final strings.Builder
	gotDone := false
	for d := range deltas {
		if d.Done {
			gotDone = true
			break
		}
		final.WriteString(d.Text)
		emit(taskruntime.Event{Kind: "stream-delta", Payload: DeltaPayload{Role: agent.Role, Text: d.Text}})
	}

	var streamErr error
	for e := range errs {
		streamErr = e
	}
	if streamErr != nil {
		return "", streamErr
	}

	if !gotDone {
		// Channel closed without a done sentinel: the read was aborted by
		// cancellation or deadline. Discard the partial text.
		if ctx.Err() != nil {
			return "", errkind.New(errkind.Cancelled, "stream aborted by cancellation", ctx.Err())
		}
		return "", errkind.New(errkind.Deadline, "stream aborted by deadline", callCtx.Err())
	}

	text := final.String()
	emit(taskruntime.Event{Kind: "turn-complete", Payload: TurnCompletePayload{Role: agent.Role, Text: text}})
	return text, nil
}

// fatalBadRequest emits an error+finished pair for a malformed Spec and
// returns the error, for use in an early-return guard clause.
func fatalBadRequest(emit func(taskruntime.Event), message string) error {
	err := errkind.New(errkind.BadRequest, message, nil)
	emitError(emit, err)
	emitFinished(emit, "error")
	return err
}

// emitError surfaces a non-fatal-classification-aware error as an
// "error" event.
func emitError(emit func(taskruntime.Event), err error) {
	emit(taskruntime.Event{Kind: "error", Payload: ErrorPayload{Kind: errkind.Classify(err), Message: err.Error()}})
}

// ctxCancelledErr wraps ctx's cancellation as a Cancelled-classified
// error, for control-flow returns from a mid-topic loop up to its caller.
func ctxCancelledErr(ctx context.Context) error {
	return errkind.New(errkind.Cancelled, "dialogue cancelled", ctx.Err())
}

// deadlineErr reports the run's wall-clock deadline as having passed.
func deadlineErr() error {
	return errkind.New(errkind.Deadline, "dialogue deadline exceeded", nil)
}

// classifyStop maps a runTurn error to a finish reason, or "" if the
// error is fatal and must be surfaced as an (error, kind, message) event.
func classifyStop(err error) string {
	switch errkind.Classify(err) {
	case errkind.Cancelled:
		return "cancelled"
	case errkind.Deadline:
		return "deadline"
	default:
		return ""
	}
}
