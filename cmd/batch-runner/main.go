// Package main 批量问答入口：读取题目文件，按对话组并发处理并写出结果
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finqa-api/internal/application/batch"
	"finqa-api/internal/config"
	einoobs "finqa-api/internal/observability/eino"
	"finqa-api/internal/wire"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	// 收到中断信号后停止派发新的对话组
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "batch-runner",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	groups, err := batch.LoadFile(cfg.Batch.InputPath)
	if err != nil {
		logger.Fatal(ctx, "failed to load questions", err, "path", cfg.Batch.InputPath)
	}

	core, cleanup, err := wire.InitializeQA(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize qa", err)
	}
	defer cleanup()

	log := logger.FromContext(ctx)
	log.Info("batch started",
		"groups", len(groups),
		"workers", cfg.Batch.MaxWorkers,
		"input", cfg.Batch.InputPath,
	)

	start := time.Now()
	results, err := batch.NewRunner(core.Orchestrator, cfg.Batch.MaxWorkers, cfg.Dialogue.ContextWindow).Run(ctx, groups)
	if err != nil {
		// 已完成的组仍然写出
		log.Error("batch interrupted", "error", err)
	}

	path, werr := batch.WriteResults(cfg.Batch.OutputDir, results, time.Now())
	if werr != nil {
		logger.Fatal(ctx, "failed to write results", werr, "dir", cfg.Batch.OutputDir)
	}

	log.Info("batch finished",
		"output", path,
		"groups", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		os.Exit(1)
	}
}
