package journal

import (
	"context"

	"todo-sync/server/internal/model"
)

// Entry 是一条已应用到缓存的事件记录。
type Entry struct {
	Seq        int64           `json:"seq"`
	Stream     string          `json:"stream"`
	Event      model.TaskEvent `json:"event"`
	AppliedAt  int64           `json:"applied_at"`
	Version    uint64          `json:"version"`
	Reconnects int64           `json:"reconnects"`
}

type Store interface {
	// Append 写入一条已应用事件，返回本次写入的 seq。
	// 约定：同一 stream 的 seq 单调递增；重放的事件也会被记录（不去重）。
	Append(ctx context.Context, stream string, entry *Entry) (int64, error)
	// List 返回该 stream 的全量记录，用于回放与排查。
	List(ctx context.Context, stream string) ([]Entry, error)
}
