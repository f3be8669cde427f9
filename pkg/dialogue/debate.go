package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/NoneadChina/dialoguecore/pkg/llm"
	"github.com/NoneadChina/dialoguecore/pkg/taskruntime"
)

// judgeVerdictTemplate is the fixed output shape a debate judge turn
// must fill in, per spec.md §6.
const judgeVerdictTemplate = `【Summary】
<bullets per side, then 2-3 key clash points>
【Scores】
Pro : argumentation/30, structure/20, persuasiveness/30, facts&ethics/20 = X/100
Con : argumentation/30, structure/20, persuasiveness/30, facts&ethics/20 = X/100
【Verdict】
Winner: pro|con
Rationale: ...`

// runDebate runs Agents[0] (pro) against Agents[1] (con) for Rounds
// alternating turns per topic, with Agents[2] judging each topic once
// the pro/con exchange completes. Topics run serially and share the
// run's deadline and cancellation, per spec.md §4.G.
func runDebate(ctx context.Context, emit func(taskruntime.Event), spec Spec) error {
	if len(spec.Agents) < 3 {
		return fatalBadRequest(emit, "debate mode requires three agents (pro, con, judge)")
	}
	pro, con, judge := spec.Agents[0], spec.Agents[1], spec.Agents[2]
	deadline := deadlineOf(spec)

	topics := spec.Topics
	if len(topics) == 0 {
		topics = []string{""}
	}

	for _, topic := range topics {
		if ctx.Err() != nil {
			emitFinished(emit, "cancelled")
			return nil
		}
		if pastDeadline(deadline) {
			emitFinished(emit, "deadline")
			return nil
		}

		if err := runDebateTopic(ctx, emit, spec, deadline, topic, pro, con, judge); err != nil {
			if reason := classifyStop(err); reason != "" {
				emitFinished(emit, reason)
				return nil
			}
			emitError(emit, err)
			emitFinished(emit, "error")
			return err
		}
	}

	emitFinished(emit, "completed")
	return nil
}

// runDebateTopic runs one topic's full pro/con exchange plus judge
// verdict. A sentinel returned error already classifies as
// cancelled/deadline/other via the caller's classifyStop.
func runDebateTopic(ctx context.Context, emit func(taskruntime.Event), spec Spec, deadline time.Time, topic string, pro, con, judge AgentSpec) error {
	ledgerPro := []llm.Message{{Role: "system", Content: roleWrap(pro.SystemPrompt)}, {Role: "user", Content: topic}}
	ledgerCon := []llm.Message{{Role: "system", Content: roleWrap(con.SystemPrompt)}}

	var turns []turnRecord
	totalTurns := 2 * spec.Rounds

	for i := 0; i < totalTurns; i++ {
		if ctx.Err() != nil {
			return ctxCancelledErr(ctx)
		}
		if pastDeadline(deadline) {
			return deadlineErr()
		}

		speaker, ledger := pro, &ledgerPro
		if i%2 == 1 {
			speaker, ledger = con, &ledgerCon
		}

		text, err := runTurn(ctx, emit, deadline, speaker, *ledger, spec.Temperature, spec.YieldFullResponse)
		if err != nil {
			return err
		}

		*ledger = append(*ledger, llm.Message{Role: "assistant", Content: text})
		turns = append(turns, turnRecord{Role: speaker.Role, Text: text})

		other := &ledgerPro
		if i%2 == 0 {
			other = &ledgerCon
		}
		*other = append(*other, llm.Message{Role: "user", Content: text})
	}

	if ctx.Err() != nil {
		return ctxCancelledErr(ctx)
	}
	if pastDeadline(deadline) {
		return deadlineErr()
	}

	judgePrompt := fmt.Sprintf(
		"Topic: %s\n\n%s\nProduce your verdict using exactly this template:\n%s",
		topic, renderTranscript(turns), judgeVerdictTemplate,
	)
	ledgerJudge := []llm.Message{
		{Role: "system", Content: roleWrap(judge.SystemPrompt)},
		{Role: "user", Content: judgePrompt},
	}
	if _, err := runTurn(ctx, emit, deadline, judge, ledgerJudge, spec.Temperature, spec.YieldFullResponse); err != nil {
		return err
	}

	return nil
}
