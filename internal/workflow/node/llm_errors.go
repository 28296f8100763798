package node

import "strings"

// IsRetryableLLMError 根据错误文本判断是否为限流、超时或服务端临时故障
func IsRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "eof"):
		return true
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "server error"), strings.Contains(msg, "unavailable"):
		return true
	default:
		return false
	}
}
