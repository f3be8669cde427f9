// Command orchestrator is the CLI front end over the dialoguecore
// substrate: it wires the Config Store, Credential Store, Provider
// Factory, Rate Limiter, Task Runtime, Dialogue Engine, and History
// Store into chat/discuss/debate subcommands, grounded on the teacher's
// cmd/agi/main.go flag-and-config wiring shape but rebuilt atop
// spf13/cobra (as 88lin-divinesense's cmd/divinesense/main.go does) in
// place of the teacher's flat flag package.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NoneadChina/dialoguecore/pkg/configstore"
	"github.com/NoneadChina/dialoguecore/pkg/credentials"
	"github.com/NoneadChina/dialoguecore/pkg/dialogue"
	"github.com/NoneadChina/dialoguecore/pkg/history"
	"github.com/NoneadChina/dialoguecore/pkg/llm"
	"github.com/NoneadChina/dialoguecore/pkg/logger"
	"github.com/NoneadChina/dialoguecore/pkg/ratelimit"
	"github.com/NoneadChina/dialoguecore/pkg/taskruntime"
)

const version = "0.1.0"

var (
	flagConfigPath string
	flagFrozen     bool
	flagPassword   string
	flagRounds     int
	flagTemp       float64
	flagTimeLimit  time.Duration
	flagModel1     string
	flagModel2     string
	flagModel3     string
	flagTag1       string
	flagTag2       string
	flagTag3       string
	flagTopic      string
	flagYieldFull  bool
	flagHistoryDB  string
)

func main() {
	root := &cobra.Command{
		Use:     "orchestrator",
		Short:   "Drive chat, discussion, and debate dialogues across LLM providers",
		Version: version,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config.yaml (default: ./config.yaml or user config dir)")
	root.PersistentFlags().BoolVar(&flagFrozen, "frozen", false, "resolve config/credentials paths as a packaged build would")
	root.PersistentFlags().StringVar(&flagPassword, "password", os.Getenv("DIALOGUECORE_PASSWORD"), "credential-store password (env DIALOGUECORE_PASSWORD)")
	root.PersistentFlags().Float64Var(&flagTemp, "temperature", 0.7, "sampling temperature [0,2]")
	root.PersistentFlags().IntVar(&flagRounds, "rounds", 3, "number of exchange rounds")
	root.PersistentFlags().DurationVar(&flagTimeLimit, "time-limit", 0, "wall-clock budget for the whole dialogue (0 = none)")
	root.PersistentFlags().BoolVar(&flagYieldFull, "yield-full", false, "emit cumulative text instead of incremental deltas")
	root.PersistentFlags().StringVar(&flagHistoryDB, "history-backend", "json", "history storage backend: json|bolt")

	root.AddCommand(newChatCmd(), newDiscussCmd(), newDebateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtimeDeps bundles everything a subcommand needs, built once from
// flags/env/config.
type runtimeDeps struct {
	log      *logger.Logger
	cfg      *configstore.Store
	creds    *credentials.Store
	limiters *ratelimit.Registry
	hist     *history.Store
	rt       *taskruntime.Runtime
}

func bootstrap() (*runtimeDeps, error) {
	dataDir, err := os.UserConfigDir()
	if err != nil {
		dataDir = "."
	}
	dataDir = filepath.Join(dataDir, "dialoguecore")

	log, err := logger.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	cfgPath, err := configstore.ResolvePath(flagConfigPath, flagFrozen)
	if err != nil {
		return nil, err
	}
	cfg, err := configstore.Load(cfgPath, flagFrozen)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	creds, err := credentials.Init(flagPassword, dataDir)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	hist, err := openHistory(dataDir, log.Warn)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return &runtimeDeps{
		log:      log,
		cfg:      cfg,
		creds:    creds,
		limiters: ratelimit.NewRegistry(60, time.Minute),
		hist:     hist,
		rt:       taskruntime.New(4),
	}, nil
}

// openHistory opens the History Store on the backend named by
// --history-backend: "json" (default, a flat chat_histories.json file)
// or "bolt" (an embedded bbolt database), both behind the identical
// history.Store API.
func openHistory(dataDir string, warn func(format string, args ...any)) (*history.Store, error) {
	switch flagHistoryDB {
	case "", "json":
		return history.Open(filepath.Join(dataDir, "chat_histories.json"), warn)
	case "bolt":
		return history.OpenBolt(filepath.Join(dataDir, "chat_histories.bolt"), warn)
	default:
		return nil, fmt.Errorf("unknown history backend %q", flagHistoryDB)
	}
}

// resolveKey decrypts the configured key for an api.*_key path, treating
// a decryption failure the same as "no key configured" per spec.md §4.A.
func (d *runtimeDeps) resolveKey(dotPath string) string {
	enc := d.cfg.GetString(dotPath, "")
	if enc == "" {
		return ""
	}
	plain, err := d.creds.Decrypt(enc)
	if err != nil {
		d.log.Warn("credential at %s did not decrypt under the current password: %v", dotPath, err)
		return ""
	}
	return plain
}

// buildClient constructs a Provider Client for tag using config-store
// keys/base-URLs, per the Provider Factory (spec.md §4.F).
func (d *runtimeDeps) buildClient(tagStr string) (llm.Client, error) {
	tag := llm.Tag(tagStr)
	opts := llm.Options{}

	switch tag {
	case llm.TagLocal:
		opts.BaseURL = d.cfg.GetString("api.ollama_base_url", os.Getenv("OLLAMA_BASE_URL"))
	case llm.TagLocalCloud:
		opts.APIKey = d.resolveKey("api.ollama_cloud_key")
	case llm.TagCommercialA:
		opts.APIKey = d.resolveKey("api.openai_key")
	case llm.TagCommercialB:
		opts.APIKey = d.resolveKey("api.deepseek_key")
	default:
		return nil, fmt.Errorf("unknown provider tag %q", tagStr)
	}

	return llm.CreateClient(tag, opts, d.limiters.Get(tagStr))
}

// resolveModel returns requested unchanged if set; otherwise, for the
// local/local-cloud tags, it lists the provider's catalogue and applies
// the size heuristic (SPEC_FULL.md SUPPLEMENTED FEATURES #1) to pick a
// default. Commercial providers have no small/large family convention in
// their listing, so an empty model there is left to the client to reject.
func (d *runtimeDeps) resolveModel(ctx context.Context, client llm.Client, tagStr, requested string) string {
	if requested != "" {
		return requested
	}
	if tagStr != string(llm.TagLocal) && tagStr != string(llm.TagLocalCloud) {
		return requested
	}
	models, err := client.ListModels(ctx)
	if err != nil {
		d.log.Warn("auto-selecting model: listing models for %s: %v", tagStr, err)
		return requested
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return llm.SelectBySize(ids)
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Single-agent chat; reads user turns from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap()
			if err != nil {
				return err
			}
			defer deps.rt.Stop(true)
			defer deps.hist.Close()

			client, err := deps.buildClient(flagTag1)
			if err != nil {
				return err
			}
			flagModel1 = deps.resolveModel(cmd.Context(), client, flagTag1, flagModel1)
			prompt := deps.cfg.GetString("chat.system_prompt", "You are a helpful assistant.")

			userInput := make(chan string)
			go feedStdin(cmd.Context(), userInput)

			spec := dialogue.Spec{
				Mode:              dialogue.ModeChat,
				Rounds:            flagRounds,
				Temperature:       flagTemp,
				TimeLimit:         flagTimeLimit,
				YieldFullResponse: flagYieldFull,
				UserInput:         userInput,
				Agents: []dialogue.AgentSpec{
					{Role: "chat-assistant", Client: client, Model: flagModel1, SystemPrompt: prompt},
				},
			}
			return runAndRecord(deps, spec, "chat", flagModel1, "", flagTag1, "")
		},
	}
	cmd.Flags().StringVar(&flagTag1, "provider", "local", "provider tag: local|local-cloud|commercial-a|commercial-b")
	cmd.Flags().StringVar(&flagModel1, "model", "", "model id")
	return cmd
}

func newDiscussCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discuss",
		Short: "Two-agent discussion with an expert summariser",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap()
			if err != nil {
				return err
			}
			defer deps.rt.Stop(true)
			defer deps.hist.Close()

			clientA, err := deps.buildClient(flagTag1)
			if err != nil {
				return err
			}
			clientB, err := deps.buildClient(flagTag2)
			if err != nil {
				return err
			}
			clientC, err := deps.buildClient(flagTag3)
			if err != nil {
				return err
			}
			flagModel1 = deps.resolveModel(cmd.Context(), clientA, flagTag1, flagModel1)
			flagModel2 = deps.resolveModel(cmd.Context(), clientB, flagTag2, flagModel2)
			flagModel3 = deps.resolveModel(cmd.Context(), clientC, flagTag3, flagModel3)

			common := deps.cfg.GetString("discussion.system_prompt", "")
			spec := dialogue.Spec{
				Mode:              dialogue.ModeDiscussion,
				Topics:            []string{flagTopic},
				Rounds:            flagRounds,
				Temperature:       flagTemp,
				TimeLimit:         flagTimeLimit,
				YieldFullResponse: flagYieldFull,
				Agents: []dialogue.AgentSpec{
					{Role: "scholar-A", Client: clientA, Model: flagModel1, SystemPrompt: join(common, deps.cfg.GetString("discussion.ai1_prompt", ""))},
					{Role: "scholar-B", Client: clientB, Model: flagModel2, SystemPrompt: join(common, deps.cfg.GetString("discussion.ai2_prompt", ""))},
					{Role: "expert-summariser", Client: clientC, Model: flagModel3, SystemPrompt: join(common, deps.cfg.GetString("discussion.expert_ai3_prompt", ""))},
				},
			}
			return runAndRecord(deps, spec, "discussion", flagModel1, flagModel2, flagTag1, flagTag2)
		},
	}
	addDebateLikeFlags(cmd)
	return cmd
}

func newDebateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debate",
		Short: "Two-agent adversarial debate with a judge",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap()
			if err != nil {
				return err
			}
			defer deps.rt.Stop(true)
			defer deps.hist.Close()

			clientPro, err := deps.buildClient(flagTag1)
			if err != nil {
				return err
			}
			clientCon, err := deps.buildClient(flagTag2)
			if err != nil {
				return err
			}
			clientJudge, err := deps.buildClient(flagTag3)
			if err != nil {
				return err
			}
			flagModel1 = deps.resolveModel(cmd.Context(), clientPro, flagTag1, flagModel1)
			flagModel2 = deps.resolveModel(cmd.Context(), clientCon, flagTag2, flagModel2)
			flagModel3 = deps.resolveModel(cmd.Context(), clientJudge, flagTag3, flagModel3)

			common := deps.cfg.GetString("debate.system_prompt", "")
			spec := dialogue.Spec{
				Mode:              dialogue.ModeDebate,
				Topics:            []string{flagTopic},
				Rounds:            flagRounds,
				Temperature:       flagTemp,
				TimeLimit:         flagTimeLimit,
				YieldFullResponse: flagYieldFull,
				Agents: []dialogue.AgentSpec{
					{Role: "pro-debater", Client: clientPro, Model: flagModel1, SystemPrompt: join(common, deps.cfg.GetString("debate.ai1_prompt", ""))},
					{Role: "con-debater", Client: clientCon, Model: flagModel2, SystemPrompt: join(common, deps.cfg.GetString("debate.ai2_prompt", ""))},
					{Role: "judge", Client: clientJudge, Model: flagModel3, SystemPrompt: join(common, deps.cfg.GetString("debate.judge_ai3_prompt", ""))},
				},
			}
			return runAndRecord(deps, spec, "debate", flagModel1, flagModel2, flagTag1, flagTag2)
		},
	}
	addDebateLikeFlags(cmd)
	return cmd
}

func addDebateLikeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTopic, "topic", "", "discussion/debate topic")
	cmd.Flags().StringVar(&flagTag1, "provider-a", "local", "provider tag for agent A")
	cmd.Flags().StringVar(&flagTag2, "provider-b", "local", "provider tag for agent B")
	cmd.Flags().StringVar(&flagTag3, "provider-c", "local", "provider tag for the summariser/judge")
	cmd.Flags().StringVar(&flagModel1, "model-a", "", "model id for agent A")
	cmd.Flags().StringVar(&flagModel2, "model-b", "", "model id for agent B")
	cmd.Flags().StringVar(&flagModel3, "model-c", "", "model id for the summariser/judge")
}

func join(common, role string) string {
	if common == "" {
		return role
	}
	if role == "" {
		return common
	}
	return common + "\n" + role
}

// runAndRecord submits spec, streams events to stdout, and appends the
// finished conversation to the History Store.
func runAndRecord(deps *runtimeDeps, spec dialogue.Spec, kind, model1, model2, api1, api2 string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	h := dialogue.RunDialogue(deps.rt, spec)

	go func() {
		<-ctx.Done()
		h.Cancel()
	}()

	var transcript string
	for e := range h.Events() {
		switch p := e.Payload.(type) {
		case dialogue.StatusPayload:
			fmt.Printf("\n[%s] thinking (%s)...\n", p.Role, p.Model)
		case dialogue.DeltaPayload:
			fmt.Print(p.Text)
		case dialogue.TurnCompletePayload:
			transcript += fmt.Sprintf("### %s\n%s\n\n", p.Role, p.Text)
			fmt.Println()
		case dialogue.ErrorPayload:
			fmt.Fprintf(os.Stderr, "\n[error: %s] %s\n", p.Kind, p.Message)
		case dialogue.FinishedPayload:
			fmt.Printf("\n-- finished: %s --\n", p.Reason)
		}
	}
	err := h.Await()

	rec := history.NewRecord(flagTopic, model1, model2, api1, api2, flagRounds, transcript, start, time.Now(), kind)
	deps.hist.Add(rec)
	if saveErr := deps.hist.Save(); saveErr != nil {
		deps.log.Warn("failed to save history: %v", saveErr)
	}

	return err
}

// feedStdin forwards stdin lines onto in until ctx is cancelled or stdin
// closes, so chat mode's UserInput channel stays satisfied without
// blocking dialogue shutdown.
func feedStdin(ctx context.Context, in chan<- string) {
	defer close(in)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case in <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
