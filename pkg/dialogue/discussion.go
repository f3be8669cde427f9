package dialogue

import (
	"context"
	"fmt"

	"github.com/NoneadChina/dialoguecore/pkg/llm"
	"github.com/NoneadChina/dialoguecore/pkg/taskruntime"
)

// runDiscussion alternates Agents[0] and Agents[1] for 2*Rounds
// utterances, then runs Agents[2] once as an expert summariser over the
// full transcript, per spec.md §4.G.
func runDiscussion(ctx context.Context, emit func(taskruntime.Event), spec Spec) error {
	if len(spec.Agents) < 3 {
		return fatalBadRequest(emit, "discussion mode requires three agents (A, B, summariser)")
	}
	a, b, summariser := spec.Agents[0], spec.Agents[1], spec.Agents[2]
	topic := firstTopic(spec.Topics)
	deadline := deadlineOf(spec)

	ledgerA := []llm.Message{{Role: "system", Content: roleWrap(a.SystemPrompt)}, {Role: "user", Content: topic}}
	ledgerB := []llm.Message{{Role: "system", Content: roleWrap(b.SystemPrompt)}}

	var turns []turnRecord
	totalTurns := 2 * spec.Rounds

	for i := 0; i < totalTurns; i++ {
		if ctx.Err() != nil {
			emitFinished(emit, "cancelled")
			return nil
		}
		if pastDeadline(deadline) {
			emitFinished(emit, "deadline")
			return nil
		}

		speaker, ledger := a, &ledgerA
		if i%2 == 1 {
			speaker, ledger = b, &ledgerB
		}

		text, err := runTurn(ctx, emit, deadline, speaker, *ledger, spec.Temperature, spec.YieldFullResponse)
		if err != nil {
			if reason := classifyStop(err); reason != "" {
				emitFinished(emit, reason)
				return nil
			}
			emitError(emit, err)
			emitFinished(emit, "error")
			return err
		}

		*ledger = append(*ledger, llm.Message{Role: "assistant", Content: text})
		turns = append(turns, turnRecord{Role: speaker.Role, Text: text})

		other := &ledgerA
		if i%2 == 0 {
			other = &ledgerB
		}
		*other = append(*other, llm.Message{Role: "user", Content: text})
	}

	if ctx.Err() != nil {
		emitFinished(emit, "cancelled")
		return nil
	}
	if pastDeadline(deadline) {
		emitFinished(emit, "deadline")
		return nil
	}

	ledgerC := []llm.Message{
		{Role: "system", Content: roleWrap(summariser.SystemPrompt)},
		{Role: "user", Content: fmt.Sprintf("Topic: %s\n\n%s", topic, renderTranscript(turns))},
	}
	if _, err := runTurn(ctx, emit, deadline, summariser, ledgerC, spec.Temperature, spec.YieldFullResponse); err != nil {
		if reason := classifyStop(err); reason != "" {
			emitFinished(emit, reason)
			return nil
		}
		emitError(emit, err)
		emitFinished(emit, "error")
		return err
	}

	emitFinished(emit, "completed")
	return nil
}

func firstTopic(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	return topics[0]
}
