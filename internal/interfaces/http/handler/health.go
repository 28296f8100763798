// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Checker 依赖健康检查
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc 函数形式的 Checker
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Dependency 就绪检查中的一项依赖；Required 为 false 时失败只标记 degraded
type Dependency struct {
	Name     string
	Checker  Checker
	Required bool
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version string
	deps    []Dependency
	timeout time.Duration
}

// NewHealthHandler 创建健康检查处理器，nil Checker 的依赖会被忽略
func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	kept := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Checker != nil {
			kept = append(kept, d)
		}
	}
	return &HealthHandler{version: version, deps: kept, timeout: 2 * time.Second}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready 并发检查所有依赖
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]*readinessCheck, len(h.deps))
		ready  = true
	)

	var g errgroup.Group
	for _, dep := range h.deps {
		g.Go(func() error {
			start := time.Now()
			err := dep.Checker.HealthCheck(ctx)
			rc := &readinessCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				rc.Error = err.Error()
				rc.Status = "degraded"
				if dep.Required {
					rc.Status = "error"
				}
			}

			mu.Lock()
			defer mu.Unlock()
			checks[dep.Name] = rc
			if err != nil && dep.Required {
				ready = false
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readinessResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
