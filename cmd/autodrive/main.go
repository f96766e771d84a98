package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/agentmgr"
	"github.com/autodrive/autodrive/internal/domain/auth"
	"github.com/autodrive/autodrive/internal/domain/compaction"
	"github.com/autodrive/autodrive/internal/domain/coordinator"
	"github.com/autodrive/autodrive/internal/domain/decision"
	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/metrics"
	"github.com/autodrive/autodrive/internal/domain/retry"
	"github.com/autodrive/autodrive/internal/domain/rollout"
	"github.com/autodrive/autodrive/internal/infrastructure/config"
	"github.com/autodrive/autodrive/internal/infrastructure/eventbus"
	"github.com/autodrive/autodrive/internal/infrastructure/grpcagent"
	"github.com/autodrive/autodrive/internal/infrastructure/logger"
	"github.com/autodrive/autodrive/internal/infrastructure/modelclient"
	"github.com/autodrive/autodrive/internal/infrastructure/persistence"
	"github.com/autodrive/autodrive/internal/infrastructure/worktree"
	"github.com/autodrive/autodrive/internal/interfaces/ui"
	"github.com/autodrive/autodrive/pkg/safego"
)

const (
	cliVersion = "0.3.0"
	cliName    = "autodrive"
)

// planningPrompt is the worker prompt of the locally synthesized first
// decision, shown before the first real model call completes.
const planningPrompt = "Review the goal, inspect the repository layout, and produce a short plan: what to change, in what order, and how to verify it. Do not modify anything yet."

const userReplyInstructions = `The user typed a message into the UI mid-run. Reply with JSON:
{"user_response": "<markdown answer for the user>", "cli_command": "<optional command to forward to the worker, or omit>"}
Answer from the conversation so far; do not invent progress that has not happened.`

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName + " [goal]",
		Short: "Auto Drive: autonomous coding-agent coordinator",
		Long:  "Auto Drive drives a worker CLI and a pool of parallel sub-agents toward a goal, one structured decision per turn.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runCoordinator,
	}

	rootCmd.Flags().StringP("model", "m", "", "model slug (overrides config)")
	rootCmd.Flags().Bool("no-agents", false, "disable sub-agent spawning")
	rootCmd.Flags().StringP("workspace", "w", "", "working directory (defaults to CWD)")
	rootCmd.Flags().Bool("serve", false, "also expose the HTTP/websocket UI surface")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run headless: coordinator plus HTTP/websocket surface, goal supplied by a UI client",
		RunE:  runServe,
	})

	rootCmd.AddCommand(newCloudCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check config, credentials, git, database and agent families",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove leftover agent worktrees and their branches",
		Long:  "Write-capable agents leave their worktree and branch in place as the inspectable result of the run. Once merged or discarded, clean removes them.",
		RunE:  runClean,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── run (default) ───

func runCoordinator(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(strings.Join(args, " "))
	serveFlag, _ := cmd.Flags().GetBool("serve")
	return runSession(cmd, goal, serveFlag)
}

func runServe(cmd *cobra.Command, args []string) error {
	return runSession(cmd, "", true)
}

func runSession(cmd *cobra.Command, goal string, serve bool) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.Model.Default = m
	}
	noAgents, _ := cmd.Flags().GetBool("no-agents")

	workspace, _ := os.Getwd()
	if w, _ := cmd.Flags().GetString("workspace"); w != "" {
		workspace = w
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credentials and model transport.
	authMgr := auth.New(config.HomeDir(), auth.Mode(cfg.Auth.PreferredMode), log)
	if !authMgr.HasCredential() {
		return fmt.Errorf("no credentials: set %s or log in first", auth.APIKeyEnvVar)
	}
	client := modelclient.New(cfg.Model.BaseURL, authMgr, cfg.Model.Default, betaVariant(cfg), 0, log)

	// Sub-agent plumbing.
	selfPath, _ := os.Executable()
	gitRepo := worktree.IsGitRepo(ctx, workspace)
	var worktrees agentmgr.WorktreeAllocator
	if gitRepo {
		worktrees = worktree.NewManager(workspace, log)
	}
	processRunner := agentmgr.NewProcessRunner(selfPath, worktrees, worktree.BranchName, log)
	dispatch := agentmgr.NewDispatchRunner(agentmgr.NewCloudRunner(selfPath), processRunner)

	// Event fan-out.
	bus := eventbus.NewBus(log, 256)
	defer bus.Close()

	agentMgr := agentmgr.NewManager(dispatch, log, func(snaps []agentmgr.StatusSnapshot, _, _ string) {
		for _, s := range snaps {
			if s.Status == agentmgr.StatusRunning && len(s.Progress) > 0 {
				bus.Emit(coordinator.Event{
					Kind:          coordinator.EventAction,
					ActionMessage: fmt.Sprintf("[%s] %s", s.Name, s.Progress[len(s.Progress)-1]),
				})
			}
		}
	})

	// Hot-reloadable agent family policies.
	policies, err := config.NewPolicyWatcher("", cfg.Agents.Policies, log)
	if err != nil {
		log.Warn("policy watcher unavailable", zap.Error(err))
	} else {
		safego.Go(log, "policy-watcher", policies.Start)
		defer policies.Stop()
	}

	// Rollout catalog.
	var rollouts rollout.Repository
	if db, dbErr := persistence.NewDBConnection(&cfg.Database); dbErr != nil {
		log.Warn("rollout catalog unavailable", zap.Error(dbErr))
	} else {
		rollouts = persistence.NewGormRolloutRepository(db)
	}

	sessMx := metrics.New()
	client.OnDuplicate(sessMx.RecordDuplicateItem)
	compactor := compaction.NewEngine(modelclient.NewCompactionSummarizer(client, cfg.Model.Default), log)
	retryEngine := retry.NewEngine(retry.Config{
		BaseWait: cfg.Retry.BaseWait,
		MaxWait:  cfg.Retry.MaxWait,
		Deadline: cfg.Retry.Deadline,
	}, log)

	streamer := modelclient.NewCoordinatorAdapter(client)
	if !noAgents {
		streamer.WithAgentTool(agentmgr.ToolSchema(enabledAgentFamilies()))
	}

	coord := coordinator.New(coordinator.Config{
		Model:           cfg.Model.Default,
		ReasoningEffort: cfg.Model.ReasoningEffort,
		PromptCacheKey:  cfg.Model.PromptCacheKey,
		ModelBudget: compaction.ModelBudget{
			AutoCompactTokenLimit: cfg.Model.AutoCompactTokenLimit,
			ContextWindow:         cfg.Model.ContextWindow,
		},
		GitRepoPresent:        gitRepo,
		InitialGoal:           goal,
		AgentsEnabled:         !noAgents,
		PlanningPrompt:        planningPrompt,
		BaseInstructions:      loadInstructions(),
		UserReplyInstructions: userReplyInstructions,
	}, streamer, retryEngine, compactor, agentMgr, sessMx, bus, log)

	// Interactive terminal output, acking each decision once rendered.
	terminal := ui.NewTerminal(os.Stdout, 100, coord.Submit)
	bus.Subscribe(eventbus.Wildcard, terminal.Emit)

	// A terminal decision ends the session once the terminal has acked it.
	finalStatus := rollout.StatusStopped
	bus.Subscribe(string(coordinator.EventDecision), func(ev coordinator.Event) {
		if ev.Decision == nil || ev.Decision.Decision == nil {
			return
		}
		switch ev.Decision.Decision.Status {
		case decision.StatusSuccess:
			finalStatus = rollout.StatusDone
		case decision.StatusFailed:
			finalStatus = rollout.StatusFailed
		default:
			return
		}
		coord.Submit(coordinator.Command{Kind: coordinator.CmdStop})
	})

	// Optional detached-UI surface.
	if serve {
		hub := ui.NewHub(coord.Submit, log)
		safego.Go(log, "ws-hub", func() { hub.Run(ctx) })
		bus.Subscribe(eventbus.Wildcard, hub.Emit)

		server := ui.NewServer(ui.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
			Mode: "release",
		}, coord.Submit, hub, rollouts, log)
		bus.Subscribe(eventbus.Wildcard, server.Emit)
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Stop(shutdownCtx)
		}()
	}

	// Optional phone alerts.
	if cfg.Telegram.BotToken != "" {
		notifier, tgErr := ui.NewTelegramNotifier(ui.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}, log)
		if tgErr != nil {
			log.Warn("telegram notifier disabled", zap.Error(tgErr))
		} else {
			bus.Subscribe(eventbus.Wildcard, notifier.Emit)
		}
	}

	// Record the rollout.
	var rolloutID string
	if rollouts != nil && goal != "" {
		if id, recErr := rollouts.RecordRolloutStart(ctx, goal); recErr == nil {
			rolloutID = id
		}
	}

	if goal != "" {
		coord.Submit(coordinator.Command{
			Kind:       coordinator.CmdUpdateConversation,
			Transcript: history.History{history.NewUserMessage(goal)},
		})
	}

	runErr := coord.Run(ctx)

	if rollouts != nil && rolloutID != "" {
		status := finalStatus
		snap := sessMx.Snapshot()
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if endErr := rollouts.RecordRolloutEnd(endCtx, rolloutID, status, snap.Total, snap.TurnCount); endErr != nil {
			log.Warn("failed to record rollout end", zap.Error(endErr))
		}
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

// ─── cloud ───

func newCloudCmd() *cobra.Command {
	cloudCmd := &cobra.Command{
		Use:   "cloud",
		Short: "Interact with the remote execution backend",
	}

	submitCmd := &cobra.Command{
		Use:   "submit [prompt]",
		Short: "Submit a prompt to the cloud executor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			host, _ := cmd.Flags().GetString("host")
			wait, _ := cmd.Flags().GetBool("wait")
			model, _ := cmd.Flags().GetString("model")
			prompt := strings.Join(args, " ")

			client, err := grpcagent.New(host, cfg.GRPCPort, log)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			progress := func(line string) { fmt.Fprintln(os.Stderr, line) }

			if !wait {
				taskID, err := client.Submit(ctx, prompt, model)
				if err != nil {
					return err
				}
				fmt.Println(taskID)
				return nil
			}

			out, err := client.SubmitAndWait(ctx, prompt, model, progress)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	submitCmd.Flags().Bool("wait", false, "stream progress and print the final output")
	submitCmd.Flags().String("host", "127.0.0.1", "cloud executor host")
	submitCmd.Flags().StringP("model", "m", "", "model slug for the cloud run")
	cloudCmd.AddCommand(submitCmd)

	return cloudCmd
}

// ─── doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok := func(b bool) string {
		if b {
			return "ok"
		}
		return "MISSING"
	}

	fmt.Printf("config home:   %s\n", config.HomeDir())

	authMgr := auth.New(config.HomeDir(), auth.Mode(cfg.Auth.PreferredMode), log)
	fmt.Printf("credentials:   %s (mode %s)\n", ok(authMgr.HasCredential()), authMgr.Mode())

	cwd, _ := os.Getwd()
	gitRepo := worktree.IsGitRepo(ctx, cwd)
	fmt.Printf("git repo:      %s (write-capable agents %s)\n", ok(gitRepo), map[bool]string{true: "enabled", false: "disabled"}[gitRepo])

	if db, dbErr := persistence.NewDBConnection(&cfg.Database); dbErr != nil {
		fmt.Printf("database:      ERROR: %v\n", dbErr)
	} else {
		repo := persistence.NewGormRolloutRepository(db)
		recent, _ := repo.ListRecent(ctx, 5)
		fmt.Printf("database:      ok (%d recent rollouts)\n", len(recent))
	}

	selfPath, _ := os.Executable()
	for _, family := range []agentmgr.Family{agentmgr.FamilyClaude, agentmgr.FamilyGemini, agentmgr.FamilyQwen} {
		if _, resolveErr := agentmgr.ResolveExecutable(family, selfPath); resolveErr != nil {
			fmt.Printf("agent %-8s not found in PATH\n", family)
		} else {
			fmt.Printf("agent %-8s ok\n", family)
		}
	}
	return nil
}

// ─── clean ───

func runClean(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cwd, _ := os.Getwd()
	if !worktree.IsGitRepo(ctx, cwd) {
		return fmt.Errorf("not a git repository; nothing to clean")
	}

	worktreeDir := filepath.Join(cwd, ".autodrive", "worktrees")
	entries, err := os.ReadDir(worktreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no agent worktrees found")
			return nil
		}
		return err
	}

	mgr := worktree.NewManager(cwd, log)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		branch := entry.Name()
		path := filepath.Join(worktreeDir, branch)
		if rmErr := mgr.Remove(ctx, path, branch); rmErr != nil {
			fmt.Printf("failed to remove %s: %v\n", branch, rmErr)
			continue
		}
		fmt.Printf("removed worktree %s\n", branch)
		removed++
	}
	fmt.Printf("%d worktree(s) removed\n", removed)
	return nil
}

// ─── shared wiring ───

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	bootLog, _ := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err := config.Bootstrap(bootLog); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, log, nil
}

func betaVariant(cfg *config.Config) modelclient.BetaHeaderVariant {
	if cfg.Model.BetaHeader == string(modelclient.BetaBackend) {
		return modelclient.BetaBackend
	}
	return modelclient.BetaPublic
}

func loadInstructions() string {
	data, err := os.ReadFile(filepath.Join(config.HomeDir(), "instructions.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

func enabledAgentFamilies() []string {
	families := []string{string(agentmgr.FamilyCode), string(agentmgr.FamilyCloud)}
	for _, f := range []agentmgr.Family{agentmgr.FamilyClaude, agentmgr.FamilyGemini, agentmgr.FamilyQwen} {
		if _, err := agentmgr.ResolveExecutable(f, ""); err == nil {
			families = append(families, string(f))
		}
	}
	return families
}
