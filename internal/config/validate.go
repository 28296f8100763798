package config

import (
	"fmt"
	"strings"

	"finqa-api/pkg/retry"
)

// Validate 校验取值范围与枚举
func (c *Config) Validate() error {
	if c.Dialogue.ContextWindow <= 0 {
		return fmt.Errorf("dialogue.context_window must be positive, got %d", c.Dialogue.ContextWindow)
	}
	if c.Dialogue.MaxHistory < c.Dialogue.ContextWindow {
		return fmt.Errorf("dialogue.max_history (%d) must be >= context_window (%d)", c.Dialogue.MaxHistory, c.Dialogue.ContextWindow)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [0,1], got %v", c.Retrieval.Threshold)
	}
	if c.Orchestrator.MaxIteration <= 0 {
		return fmt.Errorf("orchestrator.max_iteration must be positive, got %d", c.Orchestrator.MaxIteration)
	}
	if strings.TrimSpace(c.Orchestrator.Sentinel) == "" {
		return fmt.Errorf("orchestrator.sentinel must not be empty")
	}
	if err := oneOf("retrieval.zero_hit_policy", c.Retrieval.ZeroHitPolicy, "fallback", "fail"); err != nil {
		return err
	}
	if err := oneOf("orchestrator.history_policy", c.Orchestrator.HistoryPolicy, "persist", "scratch"); err != nil {
		return err
	}
	if err := oneOf("vector.backend", c.Vector.Backend, "memory", "milvus"); err != nil {
		return err
	}
	if err := oneOf("executor.backend", c.Executor.Backend, "http", "postgres", "sqlite"); err != nil {
		return err
	}
	if c.Batch.MaxWorkers <= 0 {
		return fmt.Errorf("batch.max_workers must be positive, got %d", c.Batch.MaxWorkers)
	}
	return nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", key, allowed, val)
}

// Policy 转换为协作方调用的重试策略
func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	if c.Backoff.Initial > 0 {
		p.Backoff = retry.Backoff{
			Initial:    c.Backoff.Initial,
			Max:        c.Backoff.Max,
			Multiplier: c.Backoff.Multiplier,
		}
	}
	return p
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr Milvus 地址
func (c MilvusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN PostgreSQL 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}
