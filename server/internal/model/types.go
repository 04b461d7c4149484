package model

// Task 是缓存中的一条任务记录，字段与 schema/schemas/task.schema.json 保持一致。
// 约定：ID 与 CreatedAt 在记录生命周期内不可变；缓存内 ID 唯一。
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"createdAt"`
}

// EventType 是事件信封上的类型标签（封闭枚举）。
type EventType string

const (
	EventTypeTaskCreated EventType = "TODO_CREATED"
	EventTypeTaskUpdated EventType = "TODO_UPDATED"
	EventTypeTaskDeleted EventType = "TODO_DELETED"
)

// Known 判断类型标签是否属于封闭枚举。
func (t EventType) Known() bool {
	switch t {
	case EventTypeTaskCreated, EventTypeTaskUpdated, EventTypeTaskDeleted:
		return true
	default:
		return false
	}
}

// EventMessage 是服务端推送的事件信封（SSE data / WebSocket 文本帧）。
// Timestamp 由生产者分配（毫秒），只用于观测，不参与排序与冲突裁决。
type EventMessage struct {
	EventType EventType `json:"eventType"`
	Payload   any       `json:"payload"`
	Timestamp int64     `json:"timestamp"`
}

// TaskEvent 是通过了信封与负载两层校验后的强类型事件。
type TaskEvent struct {
	Type      EventType `json:"eventType"`
	Task      Task      `json:"payload"`
	Timestamp int64     `json:"timestamp"`
}

// CreateTaskRequest 是 mutation endpoint 的请求体。
type CreateTaskRequest struct {
	Title string `json:"title"`
}

// UpdateTaskRequest 是 relay 的 PATCH 请求体，缺省字段保持不变。
type UpdateTaskRequest struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}
