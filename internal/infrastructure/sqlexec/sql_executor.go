package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/config"
	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/retry"
	"finqa-api/pkg/tracer"
)

// SQLExecutor 基于 database/sql 的执行后端，所有查询在只读事务中执行
//
// 每次尝试受 policy.Timeout 约束；只有连接类错误会重试，SQL 本身的错误直接返回。
type SQLExecutor struct {
	db      *sql.DB
	backend string
	policy  retry.Policy
}

// NewPostgresExecutor 通过 lib/pq 连接 PostgreSQL
func NewPostgresExecutor(cfg *config.PostgresConfig, policy retry.Policy) (*SQLExecutor, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return newSQLExecutor(db, BackendPostgres, policy)
}

// NewSQLiteExecutor 以只读方式打开本地快照库
func NewSQLiteExecutor(path string, policy retry.Policy) (*SQLExecutor, error) {
	if path == "" {
		return nil, fmt.Errorf("executor.sqlite.path is required")
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLExecutor(db, BackendSQLite, policy)
}

// NewSQLExecutorFromDB 包装已打开的连接池
func NewSQLExecutorFromDB(db *sql.DB, backend string, policy retry.Policy) *SQLExecutor {
	return &SQLExecutor{db: db, backend: backend, policy: withSQLRetryable(policy)}
}

func newSQLExecutor(db *sql.DB, backend string, policy retry.Policy) (*SQLExecutor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", backend, err)
	}
	return NewSQLExecutorFromDB(db, backend, policy), nil
}

func withSQLRetryable(policy retry.Policy) retry.Policy {
	if policy.Retryable == nil {
		policy.Retryable = IsRetryableSQL
	}
	return policy
}

// IsRetryableSQL 连接失效、网络错误、单次超时与 PostgreSQL 连接/序列化类错误可重试
func IsRetryableSQL(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 40001: serialization_failure, 57P01: admin_shutdown
		return pqErr.Code.Class() == "08" || pqErr.Code == "40001" || pqErr.Code == "57P01"
	}
	return retry.IsRetryable(err)
}

func (e *SQLExecutor) Backend() string { return e.backend }

func (e *SQLExecutor) Close() error { return e.db.Close() }

// Ping 健康检查
func (e *SQLExecutor) Ping(ctx context.Context) error { return e.db.PingContext(ctx) }

// Execute 执行查询，最多返回 rowLimit 行
func (e *SQLExecutor) Execute(ctx context.Context, query string, rowLimit int) (*entity.QueryResult, error) {
	limit := effectiveLimit(rowLimit)
	ctx, span := tracer.Start(ctx, "sqlexec."+e.backend+".Execute",
		trace.WithAttributes(attribute.Int("sqlexec.row_limit", limit)))

	q := limitQuery(query, limit)
	result, err := retry.Do(ctx, e.policy, "executor."+e.backend, func(ctx context.Context) (*entity.QueryResult, error) {
		return e.query(ctx, q)
	})
	if err != nil {
		err = apperrors.ExecutionError(err, "query failed")
		logger.Warn(ctx, "query execution failed", "backend", e.backend, "sql", query, "error", err.Error())
	} else {
		span.SetAttributes(attribute.Int("sqlexec.rows", result.RowCount()))
	}
	observe(e.backend, result, err)
	tracer.EndWithError(span, err)
	return result, err
}

func (e *SQLExecutor) query(ctx context.Context, query string) (*entity.QueryResult, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*entity.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &entity.QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

// normalizeValue 字节串转为字符串，时间格式化为 RFC3339，其余保持驱动原值
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
