package dialogue

import (
	"context"

	"github.com/NoneadChina/dialoguecore/pkg/llm"
	"github.com/NoneadChina/dialoguecore/pkg/taskruntime"
)

// runChat drives the single-agent chat mode: the engine suspends after
// each assistant turn awaiting the caller's next message on
// spec.UserInput, stopping after Rounds exchanges, on cancellation, on
// deadline, or when UserInput closes.
func runChat(ctx context.Context, emit func(taskruntime.Event), spec Spec) error {
	if len(spec.Agents) < 1 {
		return fatalBadRequest(emit, "chat mode requires one agent")
	}
	agent := spec.Agents[0]
	deadline := deadlineOf(spec)

	messages := []llm.Message{{Role: "system", Content: roleWrap(agent.SystemPrompt)}}

	for i := 0; i < spec.Rounds; i++ {
		if ctx.Err() != nil {
			emitFinished(emit, "cancelled")
			return nil
		}
		if pastDeadline(deadline) {
			emitFinished(emit, "deadline")
			return nil
		}

		userText, ok := awaitUserInput(ctx, spec.UserInput)
		if !ok {
			emitFinished(emit, "cancelled")
			return nil
		}
		messages = append(messages, llm.Message{Role: "user", Content: userText})

		text, err := runTurn(ctx, emit, deadline, agent, messages, spec.Temperature, spec.YieldFullResponse)
		if err != nil {
			if reason := classifyStop(err); reason != "" {
				emitFinished(emit, reason)
				return nil
			}
			emitError(emit, err)
			emitFinished(emit, "error")
			return err
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: text})
	}

	emitFinished(emit, "completed")
	return nil
}

// awaitUserInput blocks for the next chat-mode user message, returning
// ok=false if ctx is done or the channel is closed first.
func awaitUserInput(ctx context.Context, in <-chan string) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case s, ok := <-in:
		return s, ok
	}
}
