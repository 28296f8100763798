// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
	Catalog       CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Dialogue      DialogueConfig      `yaml:"dialogue" mapstructure:"dialogue"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" mapstructure:"retrieval"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Executor      ExecutorConfig      `yaml:"executor" mapstructure:"executor"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
	MCP  MCPServerConfig  `yaml:"mcp" mapstructure:"mcp"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// MCPServerConfig MCP 工具服务配置
type MCPServerConfig struct {
	// Transport stdio 或 http
	Transport string `yaml:"transport" mapstructure:"transport"`
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	// RecordsEnabled 是否把问答记录写入 PostgreSQL
	RecordsEnabled bool `yaml:"records_enabled" mapstructure:"records_enabled"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	// EmbeddingTTL 查询向量缓存时长，0 表示不缓存
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" mapstructure:"embedding_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量数据库配置
type VectorConfig struct {
	// Backend memory（进程内精确检索）或 milvus
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Milvus  MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host             string `yaml:"host" mapstructure:"host"`
	Port             int    `yaml:"port" mapstructure:"port"`
	User             string `yaml:"user" mapstructure:"user"`
	Password         string `yaml:"password" mapstructure:"password"`
	CollectionPrefix string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	// IndexType FLAT / IVF_FLAT / HNSW，度量固定为 L2
	IndexType          string `yaml:"index_type" mapstructure:"index_type"`
	IVFNList           int    `yaml:"ivf_nlist" mapstructure:"ivf_nlist"`
	IVFNProbe          int    `yaml:"ivf_nprobe" mapstructure:"ivf_nprobe"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
	HNSWEf             int    `yaml:"hnsw_ef" mapstructure:"hnsw_ef"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	FallbackChain   []string                  `yaml:"fallback_chain" mapstructure:"fallback_chain"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	// Provider openai（eino embedder）或 http（自建 /embed 服务）
	Provider  string        `yaml:"provider" mapstructure:"provider"`
	Model     string        `yaml:"model" mapstructure:"model"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter   string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// RequestsPerMinute 每个客户端 IP 在滑动窗口内允许的请求数
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// CatalogConfig 数据字典与表结构来源
type CatalogConfig struct {
	// DictionaryPath 数据字典（.csv 或 .json）
	DictionaryPath string `yaml:"dictionary_path" mapstructure:"dictionary_path"`
	// SchemaPath 全部表结构文本
	SchemaPath string `yaml:"schema_path" mapstructure:"schema_path"`
	// Watch 是否监听文件变化并主动重载
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// DialogueConfig 对话上下文配置
type DialogueConfig struct {
	MaxHistory    int `yaml:"max_history" mapstructure:"max_history"`
	ContextWindow int `yaml:"context_window" mapstructure:"context_window"`
	// Mirror 是否把对话写入 Redis 以便重启后恢复
	Mirror bool `yaml:"mirror" mapstructure:"mirror"`
	// DistributedLock 多实例部署时用 Redis 租约串行化同一对话的问题
	DistributedLock bool          `yaml:"distributed_lock" mapstructure:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// RetrievalConfig 相似度检索配置
type RetrievalConfig struct {
	TopK      int     `yaml:"top_k" mapstructure:"top_k"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// ZeroHitPolicy fallback：阈值后为空时退回未过滤的 top-k；fail：返回空
	ZeroHitPolicy string `yaml:"zero_hit_policy" mapstructure:"zero_hit_policy"`
}

// OrchestratorConfig 迭代编排配置
type OrchestratorConfig struct {
	MaxIteration int    `yaml:"max_iteration" mapstructure:"max_iteration"`
	Sentinel     string `yaml:"sentinel" mapstructure:"sentinel"`
	// HistoryPolicy persist：中间答案写入对话历史；scratch：仅在本题内可见
	HistoryPolicy string `yaml:"history_policy" mapstructure:"history_policy"`
	// PersistFinal 完成时是否把最终答案写入对话历史
	PersistFinal bool `yaml:"persist_final" mapstructure:"persist_final"`
	RowLimit     int  `yaml:"row_limit" mapstructure:"row_limit"`
}

// ExecutorConfig 查询执行配置
type ExecutorConfig struct {
	// Backend http / postgres / sqlite
	Backend  string               `yaml:"backend" mapstructure:"backend"`
	HTTP     HTTPExecutorConfig   `yaml:"http" mapstructure:"http"`
	Postgres PostgresConfig       `yaml:"postgres" mapstructure:"postgres"`
	SQLite   SQLiteExecutorConfig `yaml:"sqlite" mapstructure:"sqlite"`
}

// HTTPExecutorConfig 远程查询端点
type HTTPExecutorConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	AccessToken string        `yaml:"access_token" mapstructure:"access_token"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SQLiteExecutorConfig 本地快照库
type SQLiteExecutorConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RetryConfig 协作方调用重试
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Backoff     BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

// BatchConfig 批量问答配置
type BatchConfig struct {
	MaxWorkers int    `yaml:"max_workers" mapstructure:"max_workers"`
	InputPath  string `yaml:"input_path" mapstructure:"input_path"`
	OutputDir  string `yaml:"output_dir" mapstructure:"output_dir"`
}
