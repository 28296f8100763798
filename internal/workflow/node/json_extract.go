package node

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

// fencedJSON 匹配 ```json ... ``` 代码块或整段纯 JSON 对象
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```|^(\\{.*\\})$")

// DecodeJSONObject 从模型输出中解析 JSON 对象到 out。
// 优先使用代码块或整段 JSON，其次退回截取第一个完整 JSON 值。
func DecodeJSONObject(s string, out any) error {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return errors.New("empty model output")
	}
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		candidate := m[1]
		if candidate == "" {
			candidate = m[2]
		}
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
	}
	return json.Unmarshal([]byte(ExtractJSONObject(raw)), out)
}

// ExtractJSONObject 尝试从模型输出中截取"第一个完整 JSON 对象/数组"。
// 这是一个容错逻辑：模型可能会在 JSON 前后夹杂多余文本。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start := -1
	end := -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err == nil {
		if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
			return raw
		}
	}

	dec = json.NewDecoder(strings.NewReader(raw))
	for {
		_, e := dec.Token()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return strings.TrimSpace(s)
		}
	}
	return raw
}
