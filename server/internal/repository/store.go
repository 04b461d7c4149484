package repository

import (
	"context"
	"errors"

	"todo-sync/server/internal/model"
)

var ErrNotFound = errors.New("todo not found")

// Store 是 relay 侧的权威任务存储；每个变更都会被 relay 转成一条推送事件。
type Store interface {
	List(ctx context.Context) ([]model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	Create(ctx context.Context, title string) (model.Task, error)
	Update(ctx context.Context, id string, req model.UpdateTaskRequest) (model.Task, error)
	Delete(ctx context.Context, id string) (model.Task, error)
}
