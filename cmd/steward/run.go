package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/steward/internal/config"
	"github.com/example/steward/internal/engine"
	"github.com/example/steward/internal/history"
	"github.com/example/steward/internal/logging"
	"github.com/example/steward/internal/oracle"
	"github.com/example/steward/internal/risk"
	"github.com/example/steward/internal/tools"
)

func newRunCmd() *cobra.Command {
	var (
		mode       string
		yes        bool
		workingDir string
	)

	cmd := &cobra.Command{
		Use:   "run \"goal\"",
		Short: "Execute a natural-language task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := args[0]
			if workingDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workingDir = wd
			}

			cfg, err := config.Load(workingDir)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			taskMode, err := parseMode(mode)
			if err != nil {
				return err
			}

			eng, store, err := buildEngine(cfg, workingDir, yes, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			task := engine.NewTask(goal)
			task.Mode = taskMode
			task.WorkingDir = workingDir

			emitter := engine.NewEventEmitter(task.ID, 256)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				renderEvents(cmd, emitter.Events())
			}()

			result := eng.Run(ctx, task, emitter)
			emitter.Close()
			wg.Wait()

			printResult(cmd, result)
			if result.Outcome != engine.OutcomeSucceeded {
				return fmt.Errorf("task aborted: %w", result.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "execution mode: fast, hybrid, or exploratory (default: decided by analysis)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve all steps without asking (blocked steps still never run)")
	cmd.Flags().StringVarP(&workingDir, "dir", "C", "", "working directory (default: current directory)")
	return cmd
}

func parseMode(mode string) (oracle.Mode, error) {
	switch mode {
	case "":
		return "", nil
	case "fast":
		return oracle.ModeFast, nil
	case "hybrid":
		return oracle.ModeHybrid, nil
	case "exploratory":
		return oracle.ModeExploratory, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want fast, hybrid, or exploratory)", mode)
	}
}

func buildEngine(cfg config.Config, workingDir string, yes bool, logger *zap.Logger) (*engine.Engine, *history.Store, error) {
	registry := tools.NewRegistry()
	tools.RegisterCoreTools(registry)
	env := tools.NewLocalEnvironment(workingDir)
	dispatcher := tools.NewDispatcher(registry, env, logger, cfg.Engine.StepTimeout.Std())

	scorer := risk.NewScorer(
		risk.WithThresholds(risk.Thresholds{
			Low:    cfg.Risk.LowThreshold,
			Medium: cfg.Risk.MediumThreshold,
			High:   cfg.Risk.HighThreshold,
		}),
		risk.WithAutoApproveCeiling(cfg.Risk.AutoApproveCeiling),
		risk.WithExtraBlacklist(cfg.Risk.ExtraBlacklist),
	)

	client, err := oracle.NewClient(cfg.Oracle.Provider, cfg.Oracle.Model, cfg.APIKey(),
		oracle.WithLogger(logger),
		oracle.WithTimeout(cfg.Oracle.Timeout.Std()))
	if err != nil {
		return nil, nil, err
	}

	store, err := history.Open(cfg.HistoryPath, logger)
	if err != nil {
		logger.Warn("history store unavailable", zap.Error(err))
		store = nil
	}

	var confirmer engine.Confirmer
	if yes {
		confirmer = engine.AutoConfirmer{Approve: true}
	} else {
		confirmer = engine.ReaderConfirmer{R: os.Stdin, W: os.Stderr}
	}

	var hist engine.History
	if store != nil {
		hist = store
	}

	eng := engine.New(client, dispatcher, scorer, confirmer, hist, logger, engine.Config{
		MaxReplans:                  cfg.Engine.MaxReplans,
		ConsecutiveFailureThreshold: cfg.Engine.ConsecutiveFailureThreshold,
		ExplorationSteps:            cfg.Engine.ExplorationSteps,
		MaxLoops:                    cfg.Engine.MaxLoops,
		StepTimeout:                 cfg.Engine.StepTimeout.Std(),
		ConfirmTimeout:              cfg.Engine.ConfirmTimeout.Std(),
		MaxObservations:             cfg.Context.MaxObservations,
		KeepRecent:                  cfg.Context.KeepRecent,
		CompressThreshold:           cfg.Context.CompressThreshold,
	})
	return eng, store, nil
}

func renderEvents(cmd *cobra.Command, events <-chan engine.Event) {
	out := cmd.OutOrStdout()
	for event := range events {
		switch event.Kind {
		case engine.EventStateChange:
			fmt.Fprintf(out, "== %v\n", event.Data["state"])
		case engine.EventStepStart:
			fmt.Fprintf(out, "-> step %v: %v (%v)\n", event.Data["step"], event.Data["description"], event.Data["tool"])
		case engine.EventStepEnd:
			fmt.Fprintf(out, "   step %v: %v\n", event.Data["step"], event.Data["status"])
		case engine.EventWarning:
			fmt.Fprintf(out, " ! %v\n", event.Data["warning"])
		case engine.EventObservation:
			if output, ok := event.Data["output"].(string); ok && output != "" {
				fmt.Fprintf(out, "   %s\n", firstLines(output, 6))
			}
		}
	}
}

func printResult(cmd *cobra.Command, result *engine.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s (mode %s)\n", result.Outcome, result.Mode)
	for _, step := range result.Steps {
		fmt.Fprintf(out, "  [%s] %d. %s\n", step.Status, step.ID, step.Description)
		if step.Detail != "" {
			fmt.Fprintf(out, "        %s\n", step.Detail)
		}
	}
	fmt.Fprintf(out, "  files written: %d, commands: %d, replans: %d\n",
		result.Stats["files_written"], result.Stats["commands_run"], result.Stats["replans"])
}

func firstLines(s string, n int) string {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[:i] + "\n   ..."
			}
		}
	}
	return s
}
