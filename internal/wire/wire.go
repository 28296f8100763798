//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"finqa-api/internal/config"
	"finqa-api/internal/infrastructure/llm"
	"finqa-api/internal/interfaces/http/router"
	"finqa-api/internal/workflow/chain"
	workflowport "finqa-api/internal/workflow/port"
)

// InfraSet 外部依赖（均可选，缺失时降级）
var InfraSet = wire.NewSet(
	ProvideRetryPolicy,
	ProvideRedisClientOptional,
	ProvidePostgresClientOptional,
	ProvideMilvusClientOptional,
	ProvideQuestionRecords,
)

// CatalogSet 目录、索引与检索
var CatalogSet = wire.NewSet(
	ProvideCatalogSource,
	ProvideCatalog,
	ProvideEmbedder,
	ProvideIndex,
	ProvideRetriever,
	ProvideResolver,
	ProvideSearcher,
)

// LLMSet 生成式调用链
var LLMSet = wire.NewSet(
	llm.NewEinoFactory,
	ProvideGenerator,
	wire.Bind(new(workflowport.TextGenerator), new(*llm.Generator)),
	chain.NewRewriteChain,
	chain.NewExtractChain,
	chain.NewSQLChain,
	chain.NewAnswerChain,
)

// QASet 问答编排
var QASet = wire.NewSet(
	InfraSet,
	CatalogSet,
	LLMSet,
	ProvideDialogueStore,
	ProvideDialogueLocker,
	ProvideParser,
	ProvideExecutor,
	ProvideOrchestrator,
	wire.Struct(new(QA), "*"),
)

// InitializeQA 初始化问答核心（worker、batch、mcp 使用）
func InitializeQA(ctx context.Context, cfg *config.Config) (*QA, func(), error) {
	wire.Build(QASet)
	return nil, nil, nil
}

// InitializeApp 初始化 HTTP 应用
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		QASet,
		ProvideProducer,
		ProvideHealthHandler,
		ProvideRouter,
	)
	return nil, nil, nil
}

// InitializeIndexing 初始化索引构建依赖
func InitializeIndexing(ctx context.Context, cfg *config.Config) (*Indexing, func(), error) {
	wire.Build(
		ProvideRetryPolicy,
		ProvideRedisClientOptional,
		ProvideMilvusClientOptional,
		ProvideCatalogSource,
		ProvideCatalog,
		ProvideEmbedder,
		wire.Struct(new(Indexing), "*"),
	)
	return nil, nil, nil
}
