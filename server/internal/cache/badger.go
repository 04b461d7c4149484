package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"todo-sync/server/internal/model"
)

const (
	snapshotKeyPrefix = "cache/"
	persistRetries    = 3
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storedSnapshot 是落盘格式；Version 用于拒绝旧快照覆盖新快照。
type storedSnapshot struct {
	Version uint64       `json:"version"`
	Tasks   []model.Task `json:"tasks"`
	SavedAt int64        `json:"saved_at"`
}

// BadgerStore 在 InMemoryStore 之上做写穿透持久化：
// 启动时从 badger 装载最近一次快照（批量加载失败时可以离线预热），每次提交后落盘。
// 落盘失败只记录日志，内存中的提交仍然有效。
type BadgerStore struct {
	mem    *InMemoryStore
	db     *badger.DB
	logger *log.Logger
}

// OpenBadgerStore 打开 path 下的 badger 库；path 为空时使用纯内存模式。
func OpenBadgerStore(path string, logger *log.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	store, err := NewBadgerStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBadgerStore 使用已打开的 db，并把其中的快照装载进内存。
func NewBadgerStore(db *badger.DB, logger *log.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &BadgerStore{
		mem:    NewInMemoryStore(logger),
		db:     db,
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return s, nil
}

func (s *BadgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := Key(strings.TrimPrefix(string(item.Key()), snapshotKeyPrefix))

			var stored storedSnapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				// 坏快照不阻塞启动，等批量加载覆盖。
				s.logger.Printf("[Cache] ⚠️  skip unreadable snapshot key=%s: %v", key, err)
				continue
			}
			s.mem.restore(key, Snapshot{Value: stored.Tasks, Version: stored.Version, Present: true})
			s.logger.Printf("[Cache] restored snapshot key=%s version=%d tasks=%d", key, stored.Version, len(stored.Tasks))
		}
		return nil
	})
}

func (s *BadgerStore) Read(ctx context.Context, key Key) (Snapshot, error) {
	return s.mem.Read(ctx, key)
}

func (s *BadgerStore) Write(ctx context.Context, key Key, update Updater) (Snapshot, error) {
	snap, err := s.mem.Write(ctx, key, update)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.persist(key, snap); err != nil {
		s.logger.Printf("[Cache] ❌ persist snapshot key=%s version=%d: %v", key, snap.Version, err)
	}
	return snap, nil
}

func (s *BadgerStore) Watch(key Key) (<-chan Snapshot, func()) {
	return s.mem.Watch(key)
}

func (s *BadgerStore) GetStats() map[string]interface{} {
	return s.mem.GetStats()
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// persist 只在落盘版本更旧时写入；并发写者提交顺序与落盘顺序不一致时也不会回退。
func (s *BadgerStore) persist(key Key, snap Snapshot) error {
	data, err := json.Marshal(storedSnapshot{
		Version: snap.Version,
		Tasks:   snap.Value,
		SavedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dbKey := []byte(snapshotKeyPrefix + string(key))

	for attempt := 0; attempt < persistRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(dbKey)
			switch {
			case err == nil:
				var existing storedSnapshot
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); err == nil && existing.Version >= snap.Version {
					return nil
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			return txn.Set(dbKey, data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
