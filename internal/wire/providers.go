package wire

import (
	"context"
	"fmt"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"finqa-api/internal/application/catalog"
	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/application/retrieval"
	"finqa-api/internal/application/understanding"
	"finqa-api/internal/config"
	"finqa-api/internal/domain/repository"
	"finqa-api/internal/infrastructure/catalogsource"
	infraembedding "finqa-api/internal/infrastructure/embedding"
	"finqa-api/internal/infrastructure/llm"
	"finqa-api/internal/infrastructure/messaging"
	"finqa-api/internal/infrastructure/persistence/milvus"
	"finqa-api/internal/infrastructure/persistence/postgres"
	"finqa-api/internal/infrastructure/persistence/redis"
	"finqa-api/internal/infrastructure/sqlexec"
	"finqa-api/internal/interfaces/http/handler"
	"finqa-api/internal/interfaces/http/router"
	"finqa-api/internal/workflow/chain"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/retry"
)

// QA 问答核心依赖容器（api、worker、batch、mcp 共用）
type QA struct {
	Config       *config.Config
	Store        *dialogue.Store
	Source       *catalogsource.FileSource
	Catalog      *catalog.Catalog
	Retriever    *retrieval.Retriever
	Resolver     *catalog.Resolver
	Searcher     *catalog.Searcher
	Orchestrator *qa.Orchestrator
	Records      repository.QuestionRecordRepository
	Redis        *redis.Client
	Postgres     *postgres.Client
	Milvus       *milvus.Client
}

// Indexing 索引构建依赖容器（bootstrap 使用）
type Indexing struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Embedder einoembedding.Embedder
	Milvus   *milvus.Client
	Redis    *redis.Client
}

// ProvideRetryPolicy 协作方调用重试策略
func ProvideRetryPolicy(cfg *config.Config) retry.Policy {
	return cfg.Retry.Policy()
}

// ProvideRedisClientOptional Redis 不可达时返回 nil，依赖它的能力降级
func ProvideRedisClientOptional(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis not available, mirror/cache/rate limit/jobs disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresClientOptional 仅在启用审计记录时连接并迁移
func ProvidePostgresClientOptional(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.Database.RecordsEnabled {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Warn(ctx, "postgres not available, question records disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideQuestionRecords 未连接数据库时返回 nil 接口
func ProvideQuestionRecords(pg *postgres.Client) repository.QuestionRecordRepository {
	if pg == nil {
		return nil
	}
	return postgres.NewQuestionRecordRepository(pg)
}

// ProvideMilvusClientOptional 仅在 vector.backend=milvus 时连接
func ProvideMilvusClientOptional(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if cfg.Vector.Backend != "milvus" {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideDialogueStore 启用镜像且 Redis 可用时挂载 Redis 镜像
func ProvideDialogueStore(cfg *config.Config, rc *redis.Client) *dialogue.Store {
	dcfg := dialogue.Config{
		MaxHistory:    cfg.Dialogue.MaxHistory,
		ContextWindow: cfg.Dialogue.ContextWindow,
	}
	if cfg.Dialogue.Mirror && rc != nil {
		return dialogue.NewStore(dcfg, dialogue.WithMirror(redis.NewDialogueMirror(rc, 0)))
	}
	return dialogue.NewStore(dcfg)
}

// ProvideEmbedder 查询向量可选走 Redis 缓存
func ProvideEmbedder(ctx context.Context, cfg *config.Config, policy retry.Policy, rc *redis.Client) (einoembedding.Embedder, error) {
	inner, err := infraembedding.New(ctx, &cfg.Embedding, policy)
	if err != nil {
		return nil, err
	}
	if rc == nil || cfg.Cache.EmbeddingTTL <= 0 {
		return inner, nil
	}
	model := cfg.Embedding.Model
	return infraembedding.NewCached(inner, redis.NewCache(rc), cfg.Cache.EmbeddingTTL, func(text string) string {
		return redis.EmbeddingKey(model, text)
	}), nil
}

// ProvideDialogueLocker 进程内按对话互斥；Redis 可用且开启时叠加跨进程租约
func ProvideDialogueLocker(cfg *config.Config, rc *redis.Client) dialogue.Locker {
	local := dialogue.NewKeyedMutex()
	if rc == nil || !cfg.Dialogue.DistributedLock {
		return local
	}
	return dialogue.Layered{local, redis.NewDialogueLease(rc, cfg.Dialogue.LockTTL)}
}

// ProvideCatalogSource 文件来源；开启 watch 时后台监听直到 ctx 结束
func ProvideCatalogSource(ctx context.Context, cfg *config.Config) *catalogsource.FileSource {
	src := catalogsource.NewFileSource(cfg.Catalog.DictionaryPath, cfg.Catalog.SchemaPath)
	if cfg.Catalog.Watch {
		go func() {
			if err := src.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "catalog watcher stopped", err)
			}
		}()
	}
	return src
}

// ProvideCatalog 启动时加载目录，位置顺序在进程生命周期内固定
func ProvideCatalog(ctx context.Context, src *catalogsource.FileSource) (*catalog.Catalog, error) {
	return catalog.Load(ctx, src)
}

// ProvideIndex memory 后端在启动时构建；milvus 后端挂载已有集合
func ProvideIndex(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, embedder einoembedding.Embedder, mc *milvus.Client) (retrieval.Index, error) {
	if mc != nil {
		ix, err := milvus.NewIndex(mc)
		if err != nil {
			return nil, err
		}
		attached, err := ix.Attach(ctx)
		if err != nil {
			return nil, err
		}
		if !attached {
			logger.Warn(ctx, "milvus catalog collection missing, run bootstrap to build it")
			return ix, nil
		}
		return verifyAttachedIndex(ctx, ix, cat), nil
	}

	// 构建失败时以空索引启动，检索返回 IndexNotReady，/ready 报告未就绪
	ix := retrieval.NewFlatIndex()
	if err := retrieval.NewIndexer(embedder, ix, cfg.Embedding.BatchSize).BuildFromCatalog(ctx, cat); err != nil {
		logger.Error(ctx, "failed to build catalog index", err)
	}
	return ix, nil
}

// persistedIndex 跨进程保留的索引，记录构建时的目录指纹
type persistedIndex interface {
	retrieval.Index
	Fingerprint() string
}

// verifyAttachedIndex 规模或指纹与当前目录不一致时不提供服务，position 不能错配到其他条目
func verifyAttachedIndex(ctx context.Context, ix persistedIndex, cat *catalog.Catalog) retrieval.Index {
	var reason string
	switch {
	case ix.Size() != cat.Size():
		reason = fmt.Sprintf("index size %d differs from catalog size %d", ix.Size(), cat.Size())
	case ix.Fingerprint() != cat.Fingerprint():
		reason = "index was built from a different catalog"
	default:
		return ix
	}
	logger.Error(ctx, "persisted index out of sync with catalog, run bootstrap to rebuild",
		apperrors.ErrDataConsistencyError.WithDetail(reason),
		"index_size", ix.Size(),
		"catalog_size", cat.Size(),
	)
	return retrieval.UnavailableIndex{Reason: reason + "; rebuild required"}
}

// ProvideRetriever 检索器
func ProvideRetriever(cfg *config.Config, embedder einoembedding.Embedder, index retrieval.Index) (*retrieval.Retriever, error) {
	policy, err := retrieval.ParseZeroHitPolicy(cfg.Retrieval.ZeroHitPolicy)
	if err != nil {
		return nil, err
	}
	backend := cfg.Vector.Backend
	if backend == "" || backend == "memory" {
		backend = "flat"
	}
	return retrieval.NewRetriever(embedder, index, retrieval.Options{
		TopK:          cfg.Retrieval.TopK,
		Threshold:     cfg.Retrieval.Threshold,
		ZeroHitPolicy: policy,
	}, backend), nil
}

// ProvideResolver 每次解析都从文件来源读取最新展示信息
func ProvideResolver(cat *catalog.Catalog, src *catalogsource.FileSource) *catalog.Resolver {
	return catalog.NewResolver(cat, src)
}

// ProvideSearcher 库表搜索
func ProvideSearcher(retriever *retrieval.Retriever, resolver *catalog.Resolver) *catalog.Searcher {
	return catalog.NewSearcher(retriever, resolver)
}

// ProvideGenerator 按默认提供商与回退链依次尝试
func ProvideGenerator(factory *llm.EinoFactory, policy retry.Policy) *llm.Generator {
	return llm.NewGenerator(factory, factory.Chain(), policy)
}

// ProvideParser 问题理解
func ProvideParser(cfg *config.Config, rewrite *chain.RewriteChain, retriever *retrieval.Retriever, resolver *catalog.Resolver, extract *chain.ExtractChain) *understanding.Parser {
	return understanding.NewParser(rewrite, retriever, resolver, extract, cfg.Retrieval.TopK, -1)
}

// ProvideExecutor 按 executor.backend 选择执行后端
func ProvideExecutor(cfg *config.Config, policy retry.Policy) (sqlexec.Executor, func(), error) {
	ex, err := sqlexec.New(&cfg.Executor, policy)
	if err != nil {
		return nil, nil, err
	}
	return ex, func() { _ = ex.Close() }, nil
}

// ProvideOrchestrator 迭代编排器；records 为 nil 时不写审计记录
func ProvideOrchestrator(
	cfg *config.Config,
	store *dialogue.Store,
	parser *understanding.Parser,
	queries *chain.SQLChain,
	executor sqlexec.Executor,
	answers *chain.AnswerChain,
	records repository.QuestionRecordRepository,
	locker dialogue.Locker,
) (*qa.Orchestrator, error) {
	policy, err := qa.ParseHistoryPolicy(cfg.Orchestrator.HistoryPolicy)
	if err != nil {
		return nil, err
	}
	opts := []qa.Option{qa.WithDialogueLock(locker)}
	if records != nil {
		opts = append(opts, qa.WithRecordSink(records))
	}
	return qa.NewOrchestrator(qa.Config{
		MaxIteration:  cfg.Orchestrator.MaxIteration,
		Sentinel:      cfg.Orchestrator.Sentinel,
		HistoryPolicy: policy,
		PersistFinal:  cfg.Orchestrator.PersistFinal,
		RowLimit:      cfg.Orchestrator.RowLimit,
	}, store, parser, queries, executor, answers, opts...), nil
}

// ProvideProducer Redis 不可用时返回 nil
func ProvideProducer(cfg *config.Config, rc *redis.Client) *messaging.Producer {
	if rc == nil {
		return nil
	}
	return messaging.NewProducer(rc.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideHealthHandler 就绪检查：索引必需，其余外部依赖可选
func ProvideHealthHandler(core *QA) *handler.HealthHandler {
	deps := []handler.Dependency{{
		Name: "index",
		Checker: handler.CheckFunc(func(context.Context) error {
			if !core.Retriever.Ready() {
				return apperrors.ErrIndexNotReady
			}
			return nil
		}),
		Required: true,
	}}
	if core.Redis != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: core.Redis})
	}
	if core.Postgres != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: core.Postgres})
	}
	if core.Milvus != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: core.Milvus, Required: true})
	}
	return handler.NewHealthHandler(core.Config.App.Version, deps...)
}

// ProvideRouter 组装 HTTP 路由
func ProvideRouter(core *QA, health *handler.HealthHandler, producer *messaging.Producer) *router.Router {
	h := router.Handlers{
		Health:   health,
		Question: handler.NewQuestionHandler(core.Orchestrator, core.Records),
		Dialogue: handler.NewDialogueHandler(core.Store),
		Catalog:  handler.NewCatalogHandler(core.Searcher),
	}
	// 接口参数必须是无类型 nil，否则 handler 无法识别“未启用”
	if producer != nil {
		h.Job = handler.NewJobHandler(producer)
	} else {
		h.Job = handler.NewJobHandler(nil)
	}

	if core.Redis != nil {
		return router.New(core.Config, h, redis.NewRateLimiter(core.Redis))
	}
	return router.New(core.Config, h, nil)
}
