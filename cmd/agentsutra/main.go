// Command agentsutra runs the task execution service: the control-plane
// HTTP server, the pipeline, the sandbox, and the job scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pravindurgani/agent-sutra/chat"
	"github.com/pravindurgani/agent-sutra/config"
	"github.com/pravindurgani/agent-sutra/coordinator"
	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/internal/sysinfo"
	"github.com/pravindurgani/agent-sutra/pipeline"
	"github.com/pravindurgani/agent-sutra/projects"
	"github.com/pravindurgani/agent-sutra/providers/anthropic"
	"github.com/pravindurgani/agent-sutra/providers/ollama"
	"github.com/pravindurgani/agent-sutra/sandbox"
	"github.com/pravindurgani/agent-sutra/scheduler"
	"github.com/pravindurgani/agent-sutra/server"
	"github.com/pravindurgani/agent-sutra/store"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:          "agentsutra",
		Short:        "Single-operator AI task execution service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println("agentsutra " + version)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("agentsutra: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if _, err := st.RecoverStaleTasks(ctx); err != nil {
		log.Printf("main: stale task recovery failed: %v", err)
	}
	if err := st.PruneOldData(ctx, 30, 90); err != nil {
		log.Printf("main: retention pruning failed: %v", err)
	}
	store.CleanupWorkspaceFiles([]string{cfg.OutputsDir, cfg.UploadsDir}, 7*24*time.Hour)

	remote, err := anthropic.New(cfg.AnthropicAPIKey, anthropic.WithModel(cfg.DefaultModel))
	if err != nil {
		return err
	}
	local := ollama.New(ollama.WithBaseURL(cfg.OllamaBaseURL), ollama.WithModel(cfg.OllamaDefaultModel))

	gw := gateway.New(remote, local, st, gateway.Options{
		DefaultModel:      cfg.DefaultModel,
		ComplexModel:      cfg.ComplexModel,
		LocalDefaultModel: cfg.OllamaDefaultModel,
		EnableThinking:    cfg.EnableThinking,
		MaxRetries:        cfg.APIMaxRetries,
		DailyBudgetUSD:    cfg.DailyBudgetUSD,
		MonthlyBudgetUSD:  cfg.MonthlyBudgetUSD,
		EscalationRatio:   cfg.BudgetEscalationRatio,
	}, sysinfo.MemoryPercent)

	registry, err := projects.NewRegistry(filepath.Join(cfg.BaseDir, "projects.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load project registry: %w", err)
	}

	runner := sandbox.NewRunner(sandbox.Options{
		HostHome:               cfg.HostHome,
		OutputsDir:             cfg.OutputsDir,
		UploadsDir:             cfg.UploadsDir,
		PipCacheDir:            cfg.PipCacheDir,
		DefaultTimeout:         cfg.ExecutionTimeout,
		ProtectedEnvKeys:       cfg.ProtectedEnvKeys,
		ProtectedEnvSubstrings: cfg.ProtectedEnvSubstrings,
		ArtifactSanityLimit:    cfg.ArtifactSanityLimit,
		DockerEnabled:          cfg.DockerEnabled,
		DockerImage:            cfg.DockerImage,
		DockerMemoryLimit:      cfg.DockerMemoryLimit,
		DockerCPULimit:         cfg.DockerCPULimit,
		DockerPidsLimit:        cfg.DockerPidsLimit,
		DockerNetwork:          cfg.DockerNetwork,
	}, sandbox.NewLiveOutput(cfg.LiveOutputLines))

	nodes := &pipeline.Nodes{
		Gateway:  gw,
		Runner:   runner,
		Memory:   st,
		Registry: registry,
		Opts: pipeline.Options{
			HostHome:                cfg.HostHome,
			OutputsDir:              cfg.OutputsDir,
			MaxRetries:              cfg.MaxRetries,
			ExecutionTimeout:        cfg.ExecutionTimeout,
			MaxCodeExecutionTimeout: cfg.MaxCodeExecutionTimeout,
			BigDataRowThreshold:     cfg.BigDataRowThreshold,
			FileInjectionCharCap:    cfg.FileInjectionCharCap,
			CodingStandardsPath:     cfg.CodingStandardsPath,
			CodingStandardsCharCap:  cfg.CodingStandardsCharCap,
		},
	}

	pipe, err := pipeline.New(nodes, pipeline.NewStageMap(), cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	coord := coordinator.New(cfg, st, pipe, runner, chat.LogMessenger{}, sysinfo.MemoryPercent)

	sched, err := scheduler.New(cfg.SchedulerDBPath, func(jobCtx context.Context, userID int64, message string) {
		if _, err := coord.HandleMessage(jobCtx, userID, message); err != nil {
			log.Printf("main: scheduled task failed: %v", err)
		}
	}, sysinfo.MemoryPercent, cfg.RAMThresholdPercent)
	if err != nil {
		return fmt.Errorf("failed to open scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := server.New(cfg, coord, gw, registry, sched, local)
	log.Printf("main: agentsutra %s starting", version)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Printf("main: shutdown complete")
	return nil
}
