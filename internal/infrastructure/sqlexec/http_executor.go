package sqlexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/config"
	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/retry"
	"finqa-api/pkg/tracer"
)

// HTTPExecutor 通过远程 POST {base_url}/query 执行查询
type HTTPExecutor struct {
	url        string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

type queryRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

// NewHTTPExecutor 创建远程执行后端
func NewHTTPExecutor(cfg *config.HTTPExecutorConfig, policy retry.Policy) (*HTTPExecutor, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("executor.http.base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		url:        base + "/query",
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
	}, nil
}

func (e *HTTPExecutor) Backend() string { return BackendHTTP }

func (e *HTTPExecutor) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// Execute 执行查询；非 2xx 或响应无法解析时返回 ExecutionError
func (e *HTTPExecutor) Execute(ctx context.Context, query string, rowLimit int) (*entity.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "sqlexec.http.Execute",
		trace.WithAttributes(attribute.Int("sqlexec.row_limit", effectiveLimit(rowLimit))))

	body, err := retry.Do(ctx, e.policy, "executor.http", func(ctx context.Context) ([]byte, error) {
		return e.post(ctx, normalizeQuery(query), effectiveLimit(rowLimit))
	})
	var result *entity.QueryResult
	if err == nil {
		result, err = ParseRows(body)
	}
	if err != nil {
		err = apperrors.ExecutionError(err, "remote query failed")
		logger.Warn(ctx, "query execution failed", "backend", BackendHTTP, "sql", query, "error", err.Error())
	} else {
		span.SetAttributes(attribute.Int("sqlexec.rows", result.RowCount()))
	}
	observe(BackendHTTP, result, err)
	tracer.EndWithError(span, err)
	return result, err
}

func (e *HTTPExecutor) post(ctx context.Context, query string, limit int) ([]byte, error) {
	payload, err := json.Marshal(queryRequest{SQL: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, retry.MarkRetryable(fmt.Errorf("query request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.MarkRetryable(fmt.Errorf("read query response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("query endpoint returned status=%d body=%s", resp.StatusCode, truncate(string(body), 512))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.MarkRetryable(err)
		}
		return nil, err
	}
	return body, nil
}

// ParseRows 解析 {"data": [...]} 或顶层数组形式的行集，列顺序取首行字段顺序
func ParseRows(body []byte) (*entity.QueryResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in query response")
	}
	root := gjson.ParseBytes(body)
	rows := root
	if root.IsObject() {
		rows = root.Get("data")
	}
	if !rows.Exists() || rows.Type == gjson.Null {
		return &entity.QueryResult{Columns: []string{}, Rows: []map[string]any{}}, nil
	}
	if !rows.IsArray() {
		return nil, fmt.Errorf("query response data is not an array")
	}

	result := &entity.QueryResult{Columns: []string{}, Rows: []map[string]any{}}
	seen := map[string]bool{}
	var parseErr error
	rows.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			parseErr = fmt.Errorf("query response row is not an object")
			return false
		}
		m := make(map[string]any)
		row.ForEach(func(k, v gjson.Result) bool {
			col := k.String()
			if !seen[col] {
				seen[col] = true
				result.Columns = append(result.Columns, col)
			}
			m[col] = v.Value()
			return true
		})
		result.Rows = append(result.Rows, m)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return result, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
