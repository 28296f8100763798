package retrieval

import (
	"fmt"
	"strings"
)

const (
	DefaultTopK      = 25
	DefaultThreshold = 0.6
)

// ZeroHitPolicy 阈值过滤后无命中时的处理策略
type ZeroHitPolicy string

const (
	// ZeroHitFallback 退回未过滤的 top-k
	ZeroHitFallback ZeroHitPolicy = "fallback"
	// ZeroHitFail 返回空结果并记录告警
	ZeroHitFail ZeroHitPolicy = "fail"
)

// ParseZeroHitPolicy 解析配置值，空值取默认
func ParseZeroHitPolicy(s string) (ZeroHitPolicy, error) {
	switch ZeroHitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ZeroHitFallback:
		return ZeroHitFallback, nil
	case ZeroHitFail:
		return ZeroHitFail, nil
	default:
		return "", fmt.Errorf("unknown zero hit policy: %q", s)
	}
}

// Options 检索参数
type Options struct {
	TopK          int
	Threshold     float64
	ZeroHitPolicy ZeroHitPolicy
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	if o.ZeroHitPolicy == "" {
		o.ZeroHitPolicy = ZeroHitFallback
	}
	return o
}
