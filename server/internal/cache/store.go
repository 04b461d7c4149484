package cache

import (
	"context"

	"todo-sync/server/internal/model"
)

// Key 是查询标识（例如“全部任务列表”视图）。
type Key string

// TasksKey 是全部任务列表视图的固定 key。
const TasksKey Key = "todos"

// Snapshot 是某个 key 在某一版本上的不可变快照。
// Version 为 0 表示从未写入（Present=false）；每次提交 +1。
type Snapshot struct {
	Value   []model.Task
	Version uint64
	Present bool
}

// Updater 根据上一个快照计算下一个值，必须是纯函数：不得修改 prev，可能被重试多次。
// present=false 时 prev 为 nil，表示缓存尚未初始化。
type Updater func(prev []model.Task, present bool) []model.Task

type Store interface {
	// Read 返回当前快照；key 从未写入时返回 Present=false 的零快照，不是错误。
	Read(ctx context.Context, key Key) (Snapshot, error)
	// Write 以 compare-and-replace 的方式原子地应用 updater，返回提交后的快照。
	// 约定：并发写者不会互相覆盖；读者永远看不到半更新的序列。
	Write(ctx context.Context, key Key, update Updater) (Snapshot, error)
}

// Replace 返回一个忽略旧值、直接整体替换的 Updater（用于初始批量加载）。
func Replace(tasks []model.Task) Updater {
	value := cloneTasks(tasks)
	if value == nil {
		value = []model.Task{}
	}
	return func(_ []model.Task, _ bool) []model.Task {
		return value
	}
}

func cloneTasks(tasks []model.Task) []model.Task {
	if tasks == nil {
		return nil
	}
	out := make([]model.Task, len(tasks))
	copy(out, tasks)
	return out
}
