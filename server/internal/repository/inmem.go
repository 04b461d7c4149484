package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"todo-sync/server/internal/model"
)

type record struct {
	task model.Task
	seq  int64
}

// InMemoryStore 是一个基于内存的任务存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]record
	seq  int64

	now   func() time.Time
	newID func() string
}

func NewInMemoryStore() *InMemoryStore {
	// 开发用 relay：重启即丢数据。
	return &InMemoryStore{
		data:  make(map[string]record),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// List 按创建顺序倒序返回（最新的在前），与推送端 prepend 的顺序一致。
func (s *InMemoryStore) List(_ context.Context) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]record, 0, len(s.data))
	for _, r := range s.data {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })

	out := make([]model.Task, len(records))
	for i, r := range records {
		out[i] = r.task
	}
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return r.task, nil
}

// Create 分配 id 与 createdAt（RFC3339，UTC）。
func (s *InMemoryStore) Create(_ context.Context, title string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	task := model.Task{
		ID:        s.newID(),
		Title:     title,
		Completed: false,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.data[task.ID] = record{task: task, seq: s.seq}
	return task, nil
}

// Update 只修改请求中出现的字段。
func (s *InMemoryStore) Update(_ context.Context, id string, req model.UpdateTaskRequest) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	if req.Title != nil {
		r.task.Title = *req.Title
	}
	if req.Completed != nil {
		r.task.Completed = *req.Completed
	}
	s.data[id] = r
	return r.task, nil
}

// Delete 返回被删除的记录，relay 用它作为删除事件的负载。
func (s *InMemoryStore) Delete(_ context.Context, id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	delete(s.data, id)
	return r.task, nil
}
