package reducer

import (
	"todo-sync/server/internal/model"
)

// Reduce 只做“事实归约”：根据事件类型把任务记录合并进当前缓存，返回新的缓存。
// 约定：
//   - 纯函数：从不修改 current，返回值与 current 不共享底层数组（未变化时直接返回 current）。
//   - current == nil 表示缓存尚未初始化；created 产生单元素序列，updated/deleted 产生空序列。
//   - 第二个返回值为 false 表示类型标签不在枚举内，此时缓存原样返回，由调用方上报诊断。
func Reduce(eventType model.EventType, task model.Task, current []model.Task) ([]model.Task, bool) {
	switch eventType {
	case model.EventTypeTaskCreated:
		if current == nil {
			return []model.Task{task}, true
		}
		// 重复的 created 不产生重复记录（幂等）。
		if indexOf(current, task.ID) >= 0 {
			return current, true
		}
		next := make([]model.Task, 0, len(current)+1)
		next = append(next, task)
		next = append(next, current...)
		return next, true

	case model.EventTypeTaskUpdated:
		if current == nil {
			return []model.Task{}, true
		}
		// 未知 id 的 update 是 no-op，绝不隐式插入。
		idx := indexOf(current, task.ID)
		if idx < 0 {
			return current, true
		}
		next := make([]model.Task, len(current))
		copy(next, current)
		next[idx] = task
		return next, true

	case model.EventTypeTaskDeleted:
		if current == nil {
			return []model.Task{}, true
		}
		idx := indexOf(current, task.ID)
		if idx < 0 {
			return current, true
		}
		next := make([]model.Task, 0, len(current)-1)
		next = append(next, current[:idx]...)
		next = append(next, current[idx+1:]...)
		return next, true

	default:
		return current, false
	}
}

// ReduceEvent 是 Reduce 的便捷形式。
func ReduceEvent(evt model.TaskEvent, current []model.Task) ([]model.Task, bool) {
	return Reduce(evt.Type, evt.Task, current)
}

func indexOf(tasks []model.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
