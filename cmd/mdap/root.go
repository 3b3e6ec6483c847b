package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dirgogoo/mdap/pkg/api"
	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/llm"
	"github.com/dirgogoo/mdap/pkg/phase"
	"github.com/dirgogoo/mdap/pkg/pipeline"
	"github.com/dirgogoo/mdap/pkg/prompt"
	"github.com/dirgogoo/mdap/pkg/resource"
	"github.com/dirgogoo/mdap/pkg/track"
	"github.com/dirgogoo/mdap/pkg/vote"
)

// rootFlags are shared across subcommands.
type rootFlags struct {
	configPath string
	addr       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "mdap",
		Short:         "MDAP voting-driven code generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "mdap.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "http://localhost:8080", "control API address for client commands")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(flags),
		newExpandCmd(flags),
		newStatusCmd(flags),
		newPauseCmd(flags),
		newResumeCmd(flags),
		newCancelCmd(flags),
		newHistoryCmd(flags),
		newExplainCmd(flags),
		newResourcesCmd(flags),
		newBudgetCmd(flags),
	)
	return root
}

// runtime is the fully wired pipeline stack for one run.
type runtime struct {
	cfg       *config.Config
	orch      *pipeline.Orchestrator
	tracker   *track.Tracker
	resources *resource.Manager
	notifier  *pipeline.Notifier
	server    *api.Server
	store     *track.SQLStore // nil when persistence is disabled
}

// buildRuntime wires every collaborator with lifetimes tied to this run:
// the interrupt handler is both the voter's gate and the resource
// manager's breach target, and the tracker is the state machine's sink.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	var sink track.Sink
	var store *track.SQLStore
	if cfg.TrackerDB != "" {
		s, err := track.OpenStore(cfg.TrackerDB)
		if err != nil {
			return nil, err
		}
		sink = s
		store = s
	}

	notifier := pipeline.NewNotifier()
	interrupts := pipeline.NewInterrupts()
	tracker := track.New(sink)
	machine := pipeline.NewMachine(tracker, notifier)
	resources := resource.NewManager(cfg.LLM.Model, cfg.Budgets, interrupts)

	base := llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.APIKey(), cfg.LLM.Timeout)
	// Instrument inside the retry loop: every attempt is a billed call.
	client := llm.NewRetrying(resource.Instrument(base, resources), cfg.LLM.MaxAttempts, cfg.LLM.RetryBaseDelay)

	builder := prompt.NewBuilder()
	filter := vote.NewRedFlagFilter(cfg.Voting.MaxTokensResponse)
	disc := vote.NewLLMDiscriminator(client, builder, cfg.LLM.Model, cfg.Voting.Temperature)
	voter := vote.New(cfg.Voting, filter, disc, interrupts)
	exec := phase.NewExecutor(cfg, client, builder, voter)
	orch := pipeline.NewOrchestrator(cfg, machine, interrupts, exec, tracker, resources)

	return &runtime{
		cfg:       cfg,
		orch:      orch,
		tracker:   tracker,
		resources: resources,
		notifier:  notifier,
		server:    api.NewServer(orch, tracker, resources, notifier),
		store:     store,
	}, nil
}

// Close releases run-scoped resources.
func (r *runtime) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			slog.Warn("Closing tracker store failed", "error", err)
		}
	}
}
