//go:build !wireinject
// +build !wireinject

// 注入器实现，与 wire.go 中的 provider 集合保持一致；
// 修改 provider 后可用 `go run github.com/google/wire/cmd/wire` 重新生成。

package wire

import (
	"context"

	"finqa-api/internal/config"
	"finqa-api/internal/infrastructure/llm"
	"finqa-api/internal/interfaces/http/router"
	"finqa-api/internal/workflow/chain"
)

// InitializeQA 初始化问答核心（worker、batch、mcp 使用）
func InitializeQA(ctx context.Context, cfg *config.Config) (*QA, func(), error) {
	configConfig := cfg
	client, cleanup, err := ProvideRedisClientOptional(ctx, configConfig)
	if err != nil {
		return nil, nil, err
	}
	store := ProvideDialogueStore(configConfig, client)
	fileSource := ProvideCatalogSource(ctx, configConfig)
	catalogCatalog, err := ProvideCatalog(ctx, fileSource)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	policy := ProvideRetryPolicy(configConfig)
	embedder, err := ProvideEmbedder(ctx, configConfig, policy, client)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	milvusClient, cleanup2, err := ProvideMilvusClientOptional(ctx, configConfig)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	index, err := ProvideIndex(ctx, configConfig, catalogCatalog, embedder, milvusClient)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	retriever, err := ProvideRetriever(configConfig, embedder, index)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	resolver := ProvideResolver(catalogCatalog, fileSource)
	searcher := ProvideSearcher(retriever, resolver)
	einoFactory := llm.NewEinoFactory(configConfig)
	generator := ProvideGenerator(einoFactory, policy)
	rewriteChain := chain.NewRewriteChain(generator)
	extractChain := chain.NewExtractChain(generator)
	parser := ProvideParser(configConfig, rewriteChain, retriever, resolver, extractChain)
	sqlChain := chain.NewSQLChain(generator)
	executor, cleanup3, err := ProvideExecutor(configConfig, policy)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	answerChain := chain.NewAnswerChain(generator)
	postgresClient, cleanup4, err := ProvidePostgresClientOptional(ctx, configConfig)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	questionRecordRepository := ProvideQuestionRecords(postgresClient)
	locker := ProvideDialogueLocker(configConfig, client)
	orchestrator, err := ProvideOrchestrator(configConfig, store, parser, sqlChain, executor, answerChain, questionRecordRepository, locker)
	if err != nil {
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	wireQA := &QA{
		Config:       configConfig,
		Store:        store,
		Source:       fileSource,
		Catalog:      catalogCatalog,
		Retriever:    retriever,
		Resolver:     resolver,
		Searcher:     searcher,
		Orchestrator: orchestrator,
		Records:      questionRecordRepository,
		Redis:        client,
		Postgres:     postgresClient,
		Milvus:       milvusClient,
	}
	return wireQA, func() {
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// InitializeApp 初始化 HTTP 应用
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wireQA, cleanup, err := InitializeQA(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	healthHandler := ProvideHealthHandler(wireQA)
	producer := ProvideProducer(cfg, wireQA.Redis)
	routerRouter := ProvideRouter(wireQA, healthHandler, producer)
	return routerRouter, func() {
		cleanup()
	}, nil
}

// InitializeIndexing 初始化索引构建依赖
func InitializeIndexing(ctx context.Context, cfg *config.Config) (*Indexing, func(), error) {
	configConfig := cfg
	client, cleanup, err := ProvideRedisClientOptional(ctx, configConfig)
	if err != nil {
		return nil, nil, err
	}
	fileSource := ProvideCatalogSource(ctx, configConfig)
	catalogCatalog, err := ProvideCatalog(ctx, fileSource)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	policy := ProvideRetryPolicy(configConfig)
	embedder, err := ProvideEmbedder(ctx, configConfig, policy, client)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	milvusClient, cleanup2, err := ProvideMilvusClientOptional(ctx, configConfig)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	indexing := &Indexing{
		Config:   configConfig,
		Catalog:  catalogCatalog,
		Embedder: embedder,
		Milvus:   milvusClient,
		Redis:    client,
	}
	return indexing, func() {
		cleanup2()
		cleanup()
	}, nil
}
