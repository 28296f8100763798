package entity

// QueryResult 查询执行返回的表格数据
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// RowCount 行数
func (r *QueryResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Empty 无数据
func (r *QueryResult) Empty() bool {
	return r.RowCount() == 0
}
