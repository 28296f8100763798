// Package main 异步问题任务执行器入口（job-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"finqa-api/internal/application/jobs"
	"finqa-api/internal/config"
	"finqa-api/internal/infrastructure/messaging"
	einoobs "finqa-api/internal/observability/eino"
	"finqa-api/internal/wire"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/tracer"
)

const dlqAlertThreshold = 10

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	core, cleanup, err := wire.InitializeQA(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize qa", err)
	}
	defer cleanup()

	// 没有 Redis 就没有任务流可消费
	if core.Redis == nil {
		logger.Fatal(ctx, "job-worker requires redis", fmt.Errorf("redis not available at %s", cfg.Cache.Redis.Addr()))
	}

	rs := cfg.Messaging.RedisStream
	producer := messaging.NewProducer(core.Redis.Redis(), int64(rs.MaxLen))
	consumer := messaging.NewConsumer(core.Redis.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamQuestionSubmit,
		Group:         messaging.ConsumerGroupQAWorker.WithPrefix(rs.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
	jobs.NewHandler(core.Orchestrator, producer).Register(consumer)

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go consumer.MonitorDLQ(ctx, dlqAlertThreshold)

	log := logger.FromContext(ctx)
	log.Info("job-worker started", "stream", string(messaging.StreamQuestionSubmit))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	consumer.Stop()
	cancel()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
