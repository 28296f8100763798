package node

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"finqa-api/internal/domain/entity"
)

const maxCategoricalValues = 5

// SummarizeResult 生成查询结果的统计摘要：行列数、数值列统计、低基数分类列取值
func SummarizeResult(r *entity.QueryResult) string {
	if r == nil {
		return "数据形状: 0行 x 0列"
	}
	columns := r.Columns
	if len(columns) == 0 {
		columns = inferColumns(r.Rows)
	}

	lines := []string{
		fmt.Sprintf("数据形状: %d行 x %d列", len(r.Rows), len(columns)),
		"列名: " + strings.Join(columns, ", "),
	}
	if len(r.Rows) == 0 {
		return strings.Join(lines, "\n")
	}

	var numeric, categorical []string
	for _, col := range columns {
		if _, ok := numericValues(r.Rows, col); ok {
			numeric = append(numeric, col)
		} else {
			categorical = append(categorical, col)
		}
	}

	if len(numeric) > 0 {
		lines = append(lines, "\n数值列统计:")
		for _, col := range numeric {
			vals, _ := numericValues(r.Rows, col)
			minV, maxV, mean, std := describe(vals)
			lines = append(lines, fmt.Sprintf("- %s:\n  最小值: %s\n  最大值: %s\n  平均值: %s\n  标准差: %s",
				col, round2(minV), round2(maxV), round2(mean), round2(std)))
		}
	}

	var catLines []string
	for _, col := range categorical {
		values, counts := valueCounts(r.Rows, col)
		if len(values) == 0 || len(values) > maxCategoricalValues {
			continue
		}
		cs := make([]string, len(counts))
		for i, c := range counts {
			cs[i] = strconv.Itoa(c)
		}
		catLines = append(catLines, fmt.Sprintf("- %s:\n  唯一值: %s\n  计数: %s",
			col, strings.Join(values, ", "), strings.Join(cs, ", ")))
	}
	if len(catLines) > 0 {
		lines = append(lines, "\n分类列统计:")
		lines = append(lines, catLines...)
	}
	return strings.Join(lines, "\n")
}

func inferColumns(rows []map[string]any) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// numericValues 列中所有非空值均可解析为数值时返回 ok=true
func numericValues(rows []map[string]any, col string) ([]float64, bool) {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		v, present := row[col]
		if !present || v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, len(out) > 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// describe 最小值、最大值、均值与样本标准差
func describe(vals []float64) (minV, maxV, mean, std float64) {
	minV, maxV = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range vals {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		sum += v
	}
	mean = sum / float64(len(vals))
	if len(vals) < 2 {
		return minV, maxV, mean, math.NaN()
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	std = math.Sqrt(sq / float64(len(vals)-1))
	return minV, maxV, mean, std
}

func round2(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

// valueCounts 按出现次数降序返回取值与计数，同频按首次出现顺序
func valueCounts(rows []map[string]any, col string) ([]string, []int) {
	counts := map[string]int{}
	var order []string
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if _, seen := counts[s]; !seen {
			order = append(order, s)
		}
		counts[s]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	out := make([]int, len(order))
	for i, s := range order {
		out[i] = counts[s]
	}
	return order, out
}
