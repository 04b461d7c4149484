package schema

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemas 目录是任务与事件契约的唯一来源；校验器在 init 时从这里编译，
// 修改 schema 即修改校验器，两者不会各自漂移。
//
//go:embed schemas/*.json
var schemaFS embed.FS

const (
	taskSchemaFile  = "schemas/task.schema.json"
	eventSchemaFile = "schemas/event.schema.json"

	schemaBaseURL = "https://todo-sync.local/"
)

var (
	taskSchema  = mustCompile(taskSchemaFile)
	eventSchema = mustCompile(eventSchemaFile)
)

// ValidateEnvelope 判断任意解码值是否具备事件信封的最小形状：
// 字符串 eventType、存在（任意类型）的 payload、数值 timestamp。
// 纯谓词：不修改入参、不 panic，只检查顶层字段，不深入 payload。
func ValidateEnvelope(v any) bool {
	return conforms(eventSchema, v)
}

// ValidateTaskPayload 判断负载是否符合 Todo schema。
func ValidateTaskPayload(v any) bool {
	return conforms(taskSchema, v)
}

// conforms 先做形状检查（必须是 JSON 对象），再交给编译后的 schema。
// schema 只约束顶层基础类型字段，因此不会遍历到意料之外的嵌套结构。
func conforms(s *jsonschema.Schema, v any) (ok bool) {
	obj, isObject := v.(map[string]any)
	if !isObject || obj == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return s.Validate(obj) == nil
}

func mustCompile(name string) *jsonschema.Schema {
	s, err := compile(name)
	if err != nil {
		panic(err)
	}
	return s
}

func compile(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return compiled, nil
}
