// Package main MCP 工具服务入口：以 stdio 或 streamable HTTP 暴露问答与目录检索工具
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"finqa-api/internal/config"
	"finqa-api/internal/interfaces/mcpserver"
	einoobs "finqa-api/internal/observability/eino"
	"finqa-api/internal/wire"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout 属于 stdio 传输，日志只能写 stderr
	logger.InitWithWriter(os.Stderr, cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "mcp-server",
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

	srv := mcpserver.New(cfg.App.Name, Version, mcpserver.Deps{
		Processor: core.Orchestrator,
		Catalog:   core.Searcher,
		Dialogues: core.Store,
	})

	log := logger.FromContext(ctx)
	switch cfg.Server.MCP.Transport {
	case "", "stdio":
		log.Info("mcp server starting", "transport", "stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			logger.Fatal(ctx, "mcp server error", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", cfg.Server.MCP.Host, cfg.Server.MCP.Port)
		httpSrv := &http.Server{
			Addr: addr,
			Handler: mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
				return srv
			}, nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("mcp server listening", "transport", "http", "addr", addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("mcp http server error", "error", err)
				os.Exit(1)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("mcp server forced to shutdown", "error", err)
		}

	default:
		logger.Fatal(ctx, "unknown mcp transport", fmt.Errorf("transport %q (use stdio or http)", cfg.Server.MCP.Transport))
	}

	log.Info("mcp server exited")
}
