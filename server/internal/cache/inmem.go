package cache

import (
	"context"
	"log"
	"sync"

	"todo-sync/server/internal/model"
)

// 连续 CAS 冲突超过该次数时打一条日志，便于发现写者之间的争用。
const contentionLogEvery = 64

type slot struct {
	value   []model.Task
	version uint64
}

// InMemoryStore 是一个基于内存、按 key 分槽、带版本号的缓存实现。
// Write 走乐观并发：读快照 → 锁外计算 → 版本未变才提交，否则重试。
type InMemoryStore struct {
	mu       sync.RWMutex
	slots    map[Key]slot
	watchers map[Key]map[int]chan Snapshot
	nextID   int

	// 统计信息
	commits   int64
	conflicts int64

	logger *log.Logger
}

func NewInMemoryStore(logger *log.Logger) *InMemoryStore {
	if logger == nil {
		logger = log.Default()
	}
	return &InMemoryStore{
		slots:    make(map[Key]slot),
		watchers: make(map[Key]map[int]chan Snapshot),
		logger:   logger,
	}
}

// Read 返回当前快照的副本，调用方修改返回值不会影响内部数据。
func (s *InMemoryStore) Read(_ context.Context, key Key) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(key), nil
}

// Write 原子地应用 updater。updater 在锁外执行，可能因并发提交而被重试。
// ctx 取消时在提交前返回，缓存保持原状（可能过期，但不会被部分修改）。
func (s *InMemoryStore) Write(ctx context.Context, key Key, update Updater) (Snapshot, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		prev, _ := s.Read(ctx, key)
		next := update(prev.Value, prev.Present)

		if snap, ok := s.compareAndSwap(key, prev.Version, next); ok {
			return snap, nil
		}
		if attempt%contentionLogEvery == 0 {
			s.logger.Printf("[Cache] ⚠️  write contention on key=%s attempts=%d", key, attempt)
		}
	}
}

// compareAndSwap 仅当 key 的版本仍为 expected 时提交 next。
func (s *InMemoryStore) compareAndSwap(key Key, expected uint64, next []model.Task) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots[key].version != expected {
		s.conflicts++
		return Snapshot{}, false
	}

	value := cloneTasks(next)
	if value == nil {
		value = []model.Task{}
	}
	s.slots[key] = slot{value: value, version: expected + 1}
	s.commits++

	snap := s.snapshotLocked(key)
	s.notifyLocked(key, snap)
	return snap, true
}

// restore 直接装载一个已持久化的快照（仅用于启动时预热）。
func (s *InMemoryStore) restore(key Key, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots[key].version >= snap.Version {
		return
	}
	value := cloneTasks(snap.Value)
	if value == nil {
		value = []model.Task{}
	}
	s.slots[key] = slot{value: value, version: snap.Version}
}

func (s *InMemoryStore) snapshotLocked(key Key) Snapshot {
	sl, ok := s.slots[key]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Value: cloneTasks(sl.value), Version: sl.version, Present: true}
}

// Watch 订阅某个 key 的提交。通道只保留最新快照（慢读者会跳过中间版本）。
// 返回的 cancel 会关闭通道，可重复调用。
func (s *InMemoryStore) Watch(key Key) (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := s.nextID
	s.nextID++
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]chan Snapshot)
	}
	s.watchers[key][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[key], id)
			close(ch)
		})
	}
	return ch, cancel
}

// notifyLocked 只在持有写锁时调用：唯一的发送方，先丢旧值再写新值不会阻塞。
func (s *InMemoryStore) notifyLocked(key Key, snap Snapshot) {
	for _, ch := range s.watchers[key] {
		select {
		case <-ch:
		default:
		}
		ch <- Snapshot{Value: cloneTasks(snap.Value), Version: snap.Version, Present: snap.Present}
	}
}

// GetStats 获取缓存统计信息
func (s *InMemoryStore) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watchers := 0
	for _, m := range s.watchers {
		watchers += len(m)
	}
	return map[string]interface{}{
		"keys":      len(s.slots),
		"commits":   s.commits,
		"conflicts": s.conflicts,
		"watchers":  watchers,
	}
}
