// Package main 目录索引初始化入口：清理查询向量缓存并按当前目录重建相似度索引
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"finqa-api/internal/application/retrieval"
	"finqa-api/internal/config"
	"finqa-api/internal/infrastructure/persistence/milvus"
	"finqa-api/internal/infrastructure/persistence/redis"
	"finqa-api/internal/wire"
	"finqa-api/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting catalog index bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()

	deps, cleanup, err := wire.InitializeIndexing(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize indexing: %v", err)
	}
	defer cleanup()

	fmt.Printf("Catalog loaded: %d tables\n", deps.Catalog.Size())

	// 模型或表示文本变化后旧缓存不可信，重建前先清掉
	if deps.Redis != nil {
		n, err := redis.NewCache(deps.Redis).InvalidatePattern(ctx, redis.EmbeddingPattern(cfg.Embedding.Model))
		if err != nil {
			log.Fatalf("failed to flush embedding cache: %v", err)
		}
		fmt.Printf("Flushed %d cached embeddings\n", n)
	}

	var index retrieval.Index
	if deps.Milvus != nil {
		ix, err := milvus.NewIndex(deps.Milvus)
		if err != nil {
			log.Fatalf("failed to create milvus index: %v", err)
		}
		index = ix.WithFingerprint(deps.Catalog.Fingerprint())
	} else {
		// memory 后端每个进程启动时自建，这里只校验目录可被完整编码
		fmt.Println("vector.backend=memory, building a throwaway index to validate the catalog")
		index = retrieval.NewFlatIndex()
	}

	start := time.Now()
	indexer := retrieval.NewIndexer(deps.Embedder, index, cfg.Embedding.BatchSize)
	if err := indexer.BuildFromCatalog(ctx, deps.Catalog); err != nil {
		log.Fatalf("failed to build index: %v", err)
	}
	if index.Size() != deps.Catalog.Size() {
		log.Fatalf("index size %d does not match catalog size %d", index.Size(), deps.Catalog.Size())
	}

	fmt.Printf("Index built: %d vectors in %s\n", index.Size(), time.Since(start).Round(time.Millisecond))
	fmt.Println("Bootstrap completed successfully!")
}
