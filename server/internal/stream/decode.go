package stream

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"todo-sync/server/internal/diag"
	"todo-sync/server/internal/model"
	"todo-sync/server/internal/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownEventType 表示信封类型标签不在 TODO_CREATED/UPDATED/DELETED 之内。
var ErrUnknownEventType = errors.New("unknown event type")

// Result 是消息管线对单条入站消息的结论：要么是通过校验的事件，要么是一条诊断。
type Result struct {
	Event      *model.TaskEvent
	Diagnostic *diag.Diagnostic
}

// OK 表示该结果是可以应用到缓存的事件。
func (r Result) OK() bool {
	return r.Event != nil
}

// Decode 对一条原始文本消息执行：解码 → 信封校验 → 负载校验 → 类型枚举检查。
// 任何一步失败都返回诊断（附带出错的原始值），不会 panic。
func Decode(raw []byte) Result {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failure(diag.KindDecode, "failed to parse message", string(raw), err)
	}

	if !schema.ValidateEnvelope(decoded) {
		return failure(diag.KindEnvelope, "received invalid event message envelope", decoded, nil)
	}
	envelope := decoded.(map[string]any)

	payload := envelope["payload"]
	if !schema.ValidateTaskPayload(payload) {
		return failure(diag.KindPayload, "event payload does not match Todo schema", payload, nil)
	}

	eventType := model.EventType(envelope["eventType"].(string))
	if !eventType.Known() {
		return failure(diag.KindUnknownEventType, fmt.Sprintf("unhandled event type: %s", eventType), decoded, ErrUnknownEventType)
	}

	fields := payload.(map[string]any)
	return Result{Event: &model.TaskEvent{
		Type: eventType,
		Task: model.Task{
			ID:        fields["id"].(string),
			Title:     fields["title"].(string),
			Completed: fields["completed"].(bool),
			CreatedAt: fields["createdAt"].(string),
		},
		Timestamp: toMillis(envelope["timestamp"]),
	}}
}

func toMillis(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case jsoniter.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func failure(kind diag.Kind, msg string, raw any, err error) Result {
	return Result{Diagnostic: &diag.Diagnostic{
		Severity: diag.SeverityWarn,
		Kind:     kind,
		Message:  msg,
		Raw:      raw,
		Err:      err,
		At:       time.Now(),
	}}
}
