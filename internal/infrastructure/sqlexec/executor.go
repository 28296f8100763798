// Package sqlexec 提供查询执行后端：远程 HTTP 接口、PostgreSQL 与本地 SQLite 快照
package sqlexec

import (
	"context"
	"fmt"
	"strings"

	"finqa-api/internal/config"
	"finqa-api/internal/domain/entity"
	"finqa-api/pkg/metrics"
	"finqa-api/pkg/retry"
)

const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	DefaultRowLimit = 15
)

// Executor 查询执行后端
type Executor interface {
	Execute(ctx context.Context, query string, rowLimit int) (*entity.QueryResult, error)
	Backend() string
	Close() error
}

// New 按 executor.backend 创建执行后端
func New(cfg *config.ExecutorConfig, policy retry.Policy) (Executor, error) {
	switch cfg.Backend {
	case "", BackendHTTP:
		return NewHTTPExecutor(&cfg.HTTP, policy)
	case BackendPostgres:
		return NewPostgresExecutor(&cfg.Postgres, policy)
	case BackendSQLite:
		return NewSQLiteExecutor(cfg.SQLite.Path, policy)
	default:
		return nil, fmt.Errorf("unknown executor backend: %q", cfg.Backend)
	}
}

// normalizeQuery 去掉首尾空白与末尾分号
func normalizeQuery(query string) string {
	q := strings.TrimSpace(query)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

// limitQuery 以子查询包裹并限制行数
func limitQuery(query string, rowLimit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT %d", normalizeQuery(query), rowLimit)
}

func effectiveLimit(rowLimit int) int {
	if rowLimit <= 0 {
		return DefaultRowLimit
	}
	return rowLimit
}

func observe(backend string, result *entity.QueryResult, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExecutorCallTotal.WithLabelValues(backend, status).Inc()
	if err == nil {
		metrics.ExecutorRows.WithLabelValues(backend).Observe(float64(result.RowCount()))
	}
}
