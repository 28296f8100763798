// Package catalogsource 从数据字典与表结构文本文件加载目录条目
package catalogsource

import (
	"bufio"
	"io"
	"strings"

	"finqa-api/internal/domain/entity"
)

const (
	schemaHeaderPrefix = "==="
	schemaRule         = "--------------------"
	schemaCommentMark  = "注释"
)

// TableSchema 表结构文本中的一张表
type TableSchema struct {
	Name   string
	Fields []entity.Field
}

// ParseSchema 解析表结构文本
//
// 以 "=== <库名.表名> ..." 开始一张表；含"注释"的表头行、分隔线与空行跳过；
// 字段行按空白切分为最多三段：字段名 描述 示例。
func ParseSchema(r io.Reader) ([]TableSchema, error) {
	var (
		tables  []TableSchema
		current = -1
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, schemaHeaderPrefix) {
			name := headerTableName(line)
			if name == "" {
				current = -1
				continue
			}
			tables = append(tables, TableSchema{Name: name})
			current = len(tables) - 1
			continue
		}
		if current < 0 ||
			strings.Contains(line, schemaCommentMark) ||
			strings.Contains(line, schemaRule) ||
			strings.TrimSpace(line) == "" {
			continue
		}
		if f, ok := parseFieldLine(line); ok {
			tables[current].Fields = append(tables[current].Fields, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

func headerTableName(line string) string {
	fields := strings.Fields(strings.TrimPrefix(line, schemaHeaderPrefix))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "=")
}

func parseFieldLine(line string) (entity.Field, bool) {
	parts := splitN(strings.TrimSpace(line), 3)
	if len(parts) < 2 {
		return entity.Field{}, false
	}
	f := entity.Field{Name: parts[0], Description: parts[1]}
	if len(parts) == 3 {
		f.Example = strings.TrimSpace(parts[2])
	}
	return f, true
}

// splitN 按连续空白切分，最后一段保留剩余内容
func splitN(s string, n int) []string {
	out := make([]string, 0, n)
	for len(out) < n-1 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out
		}
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
