package vectorsync

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/ashwinyue/next-sync/internal/remote"
)

// IDExtractor 从完成的操作中提取远程文档 ID
type IDExtractor interface {
	Name() string
	TryExtract(op *remote.Operation) (string, bool)
}

// DefaultExtractors 按优先级排列的提取策略
func DefaultExtractors() []IDExtractor {
	return []IDExtractor{
		resultNameExtractor{},
		resultFileNameExtractor{},
		metadataFileNameExtractor{},
		rawStringExtractor{},
		operationNameExtractor{},
	}
}

// extractID 依次尝试各策略，返回命中的 ID 和策略名
func extractID(extractors []IDExtractor, op *remote.Operation) (id, strategy string, ok bool) {
	for _, e := range extractors {
		if id, ok := e.TryExtract(op); ok {
			return id, e.Name(), true
		}
	}
	return "", "", false
}

// result.name
type resultNameExtractor struct{}

func (resultNameExtractor) Name() string { return "result.name" }

func (resultNameExtractor) TryExtract(op *remote.Operation) (string, bool) {
	return nonEmpty(lookupString(op.Result, "name"))
}

// result.file.name
type resultFileNameExtractor struct{}

func (resultFileNameExtractor) Name() string { return "result.file.name" }

func (resultFileNameExtractor) TryExtract(op *remote.Operation) (string, bool) {
	return nonEmpty(lookupString(op.Result, "file", "name"))
}

// metadata.file.name
type metadataFileNameExtractor struct{}

func (metadataFileNameExtractor) Name() string { return "metadata.file.name" }

func (metadataFileNameExtractor) TryExtract(op *remote.Operation) (string, bool) {
	if op.Metadata == nil {
		return "", false
	}
	return nonEmpty(lookupString(map[string]interface{}(op.Metadata), "file", "name"))
}

// result 本身是字符串；看起来像 JSON 时先修复再按 name / file.name 取值
type rawStringExtractor struct{}

func (rawStringExtractor) Name() string { return "result.raw" }

func (rawStringExtractor) TryExtract(op *remote.Operation) (string, bool) {
	raw, ok := op.Result.(string)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, true
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return "", false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return "", false
	}
	if id, ok := nonEmpty(lookupString(obj, "name")); ok {
		return id, true
	}
	return nonEmpty(lookupString(obj, "file", "name"))
}

// 操作自身资源名的最后一段
type operationNameExtractor struct{}

func (operationNameExtractor) Name() string { return "operation.name" }

func (operationNameExtractor) TryExtract(op *remote.Operation) (string, bool) {
	if op.Name == "" {
		return "", false
	}
	return nonEmpty(remote.LastSegment(op.Name))
}

func lookupString(v interface{}, path ...string) string {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
