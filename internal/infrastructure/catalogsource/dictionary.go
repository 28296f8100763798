package catalogsource

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DictionaryRow 数据字典中的一行（库表关系）
type DictionaryRow struct {
	DBNameLocal      string `json:"库名中文"`
	DBNameExternal   string `json:"库名英文"`
	TableLocal       string `json:"表中文"`
	TableExternal    string `json:"表英文"`
	TableDescription string `json:"表描述"`
}

// ExternalName 库名英文.表英文，生成查询时使用
func (r DictionaryRow) ExternalName() string {
	return r.DBNameExternal + "." + r.TableExternal
}

// LocalName 库名中文.表中文
func (r DictionaryRow) LocalName() string {
	return r.DBNameLocal + "." + r.TableLocal
}

func (r DictionaryRow) valid() bool {
	return strings.TrimSpace(r.DBNameExternal) != "" && strings.TrimSpace(r.TableExternal) != ""
}

// columnKey 将表头映射为内部列名，支持中文列名与英文别名
func columnKey(header string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "库名中文", "db_name_local":
		return "db_local", true
	case "库名英文", "db_name":
		return "db_external", true
	case "表中文", "table_name_local":
		return "table_local", true
	case "表英文", "table_name":
		return "table_external", true
	case "表描述", "description":
		return "description", true
	default:
		return "", false
	}
}

// ParseDictionaryCSV 解析带表头的 CSV 数据字典，表头支持中文列名或英文别名
func ParseDictionaryCSV(r io.Reader) ([]DictionaryRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read dictionary header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		if key, ok := columnKey(strings.TrimPrefix(h, "\ufeff")); ok {
			index[key] = i
		}
	}
	for _, required := range []string{"db_external", "table_external"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("dictionary header missing column %q", required)
		}
	}

	col := func(rec []string, key string) string {
		i, ok := index[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []DictionaryRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dictionary line %d: %w", line, err)
		}
		row := DictionaryRow{
			DBNameLocal:      col(rec, "db_local"),
			DBNameExternal:   col(rec, "db_external"),
			TableLocal:       col(rec, "table_local"),
			TableExternal:    col(rec, "table_external"),
			TableDescription: col(rec, "description"),
		}
		if row.valid() {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ParseDictionaryJSON 解析 JSON 数组形式的数据字典
func ParseDictionaryJSON(r io.Reader) ([]DictionaryRow, error) {
	var raw []DictionaryRow
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dictionary json: %w", err)
	}
	rows := make([]DictionaryRow, 0, len(raw))
	for _, row := range raw {
		if row.valid() {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
