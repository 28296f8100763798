package node

import (
	"encoding/json"
	"fmt"
	"strings"

	"finqa-api/internal/domain/entity"
)

// BuildTableInfoBlock 将目录条目格式化为提示词中的表结构信息
func BuildTableInfoBlock(tables []entity.CatalogEntry) string {
	if len(tables) == 0 {
		return "（无可用的表结构信息）"
	}
	blocks := make([]string, 0, len(tables))
	for _, t := range tables {
		var sb strings.Builder
		fmt.Fprintf(&sb, "表名: %s (%s)\n", strings.TrimSpace(t.DisplayNameLocal), strings.TrimSpace(t.DisplayNameExternal))
		fmt.Fprintf(&sb, "描述: %s\n", strings.TrimSpace(t.Description))
		sb.WriteString("字段:")
		for _, f := range t.Fields {
			line := fmt.Sprintf("\n- %s: %s", f.Name, f.Description)
			if ex := strings.TrimSpace(f.Example); ex != "" {
				line += "。示例: " + ex
			}
			sb.WriteString(line)
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

// BuildUnderstandingBlock 将问题理解序列化为紧凑 JSON，字段信息不重复输出
func BuildUnderstandingBlock(u *entity.Understanding) string {
	if u == nil {
		return "{}"
	}
	type tableRef struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	view := struct {
		Question string          `json:"question"`
		Entities []entity.Entity `json:"entities"`
		Tables   []tableRef      `json:"relevant_tables"`
	}{
		Question: u.RewrittenQuestion,
		Entities: u.Entities,
		Tables:   make([]tableRef, 0, len(u.RelevantTables)),
	}
	for _, t := range u.RelevantTables {
		view.Tables = append(view.Tables, tableRef{Name: t.DisplayNameExternal, Description: t.Description})
	}
	b, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
