package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/pipeline"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run the full pipeline for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			task := strings.Join(args, " ")
			report := execute(rt, task, serve, false)
			printReport(rt, report)
			os.Exit(report.ExitCode())
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "start the control API alongside the run")
	return cmd
}

func newExpandCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <task>",
		Short: "Run only the EXPAND phase and print the requirements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			task := strings.Join(args, " ")
			report := execute(rt, task, false, true)
			if report.Failure == nil {
				for i, req := range rt.orch.Requirements() {
					fmt.Printf("%d. %s\n", i+1, req)
				}
			}
			printReport(rt, report)
			os.Exit(report.ExitCode())
			return nil
		},
	}
}

// execute runs the pipeline with SIGINT mapped to cooperative
// cancellation and state transitions echoed to the terminal.
func execute(rt *runtime, task string, serve, expandOnly bool) *pipeline.RunReport {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A second interrupt kills the process; the first one cancels
	// cooperatively via the interrupt handler.
	go func() {
		<-ctx.Done()
		stop()
		rt.orch.Cancel()
	}()

	if serve {
		rt.server.Start(rt.cfg.Server.Addr)
		defer func() { _ = rt.server.Shutdown(context.Background()) }()
	}

	changes, unsubscribe := rt.notifier.Subscribe()
	defer unsubscribe()
	go func() {
		for change := range changes {
			fmt.Fprintf(os.Stderr, "→ %s\n", change.To)
		}
	}()

	if expandOnly {
		return rt.orch.RunExpand(context.Background(), task)
	}
	return rt.orch.Run(context.Background(), task)
}

func printReport(rt *runtime, report *pipeline.RunReport) {
	usage := rt.resources.Snapshot()
	totals := rt.tracker.Totals()

	fmt.Fprintf(os.Stderr, "\nState: %s\n", report.State)
	if report.Failure != nil {
		fmt.Fprintf(os.Stderr, "Failure: %s\n", report.Failure.Error())
	}
	if report.Validation != nil {
		fmt.Fprintf(os.Stderr, "Validation: valid=%t errors=%d warnings=%d\n",
			report.Validation.Valid, len(report.Validation.Errors), len(report.Validation.Warnings))
	}
	if report.ResultPath != "" {
		fmt.Fprintf(os.Stderr, "Result: %s\n", report.ResultPath)
	}
	fmt.Fprintf(os.Stderr, "Decisions: %d  Samples: %d  Rejections: %d\n",
		totals.Decisions, totals.SamplesUsed, totals.Rejections)
	fmt.Fprintf(os.Stderr, "Calls: %d  Tokens: %d  Cost: $%.4f  Time: %.1fs\n",
		usage.APICalls, usage.InputTokens+usage.OutputTokens, usage.CostUSD, usage.ElapsedSeconds)
}
