package node

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

var sqlFence = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)```")

// ExtractSQL 去掉模型输出中的代码块围栏与末尾分号
func ExtractSQL(s string) string {
	raw := strings.TrimSpace(s)
	if m := sqlFence.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	return strings.TrimSpace(strings.TrimRight(raw, ";"))
}

// sectionHeaders 回答输出中的分段标题
var sectionHeaders = []string{"ANALYSIS:", "EXPLANATION:", "REFLECTION:", "RESPONSE:"}

// ExtractSection 取 header 段落到下一个已知标题之前的内容；不存在时 ok=false
func ExtractSection(s, header string) (string, bool) {
	idx := strings.LastIndex(s, header)
	if idx < 0 {
		return "", false
	}
	body := s[idx+len(header):]
	end := len(body)
	for _, h := range sectionHeaders {
		if h == header {
			continue
		}
		if j := strings.Index(body, h); j >= 0 && j < end {
			end = j
		}
	}
	return strings.TrimSpace(body[:end]), true
}
