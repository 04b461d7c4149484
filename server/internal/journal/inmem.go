package journal

import (
	"context"
	"sync"
)

// InMemoryStore 是一个基于内存的 Journal 实现。
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	seq     map[string]int64
	limit   int
}

// NewInMemoryStore 创建内存 journal；limit>0 时每个 stream 只保留最近 limit 条。
func NewInMemoryStore(limit int) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]Entry),
		seq:     make(map[string]int64),
		limit:   limit,
	}
}

// Append 追加记录并为该 stream 分配单调递增 seq。
func (s *InMemoryStore) Append(_ context.Context, stream string, entry *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[stream]++
	seq := s.seq[stream]

	entryCopy := *entry
	entryCopy.Seq = seq
	entryCopy.Stream = stream
	entries := append(s.entries[stream], entryCopy)
	if s.limit > 0 && len(entries) > s.limit {
		entries = append([]Entry(nil), entries[len(entries)-s.limit:]...)
	}
	s.entries[stream] = entries

	return seq, nil
}

// List 返回某个 stream 的记录（按 seq 顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context, stream string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[stream]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
