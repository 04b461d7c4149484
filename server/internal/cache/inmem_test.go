package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"todo-sync/server/internal/model"
)

func prepend(task model.Task) Updater {
	return func(prev []model.Task, _ bool) []model.Task {
		next := make([]model.Task, 0, len(prev)+1)
		next = append(next, task)
		return append(next, prev...)
	}
}

// TestInMemoryStoreReadAbsent 验证从未写入的 key 返回 Present=false 而不是错误。
func TestInMemoryStoreReadAbsent(t *testing.T) {
	store := NewInMemoryStore(nil)

	snap, err := store.Read(context.Background(), TasksKey)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Present || snap.Version != 0 || snap.Value != nil {
		t.Fatalf("expected absent snapshot, got %+v", snap)
	}
}

// TestInMemoryStoreWriteAssignsVersion 验证每次提交版本号递增，并把 present 正确传给 updater。
func TestInMemoryStoreWriteAssignsVersion(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx := context.Background()

	var sawPresent []bool
	update := func(prev []model.Task, present bool) []model.Task {
		sawPresent = append(sawPresent, present)
		return append(append([]model.Task(nil), prev...), model.Task{ID: fmt.Sprint(len(prev))})
	}

	first, err := store.Write(ctx, TasksKey, update)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := store.Write(ctx, TasksKey, update)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("expected versions 1 and 2, got %d and %d", first.Version, second.Version)
	}
	if len(sawPresent) != 2 || sawPresent[0] || !sawPresent[1] {
		t.Fatalf("unexpected present flags: %v", sawPresent)
	}
	if len(second.Value) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", second.Value)
	}
}

// TestInMemoryStoreReadReturnsCopy 验证 Read 返回副本，外部修改不影响内部状态。
func TestInMemoryStoreReadReturnsCopy(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx := context.Background()

	if _, err := store.Write(ctx, TasksKey, Replace([]model.Task{{ID: "1", Title: "Patrol"}})); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, _ := store.Read(ctx, TasksKey)
	snap.Value[0].Title = "mutated"

	again, _ := store.Read(ctx, TasksKey)
	if again.Value[0].Title != "Patrol" {
		t.Fatalf("expected internal data unchanged, got %q", again.Value[0].Title)
	}
}

// TestInMemoryStoreNilUpdaterResultIsEmpty 验证 updater 返回 nil 时存储空序列，Present 仍为 true。
func TestInMemoryStoreNilUpdaterResultIsEmpty(t *testing.T) {
	store := NewInMemoryStore(nil)

	snap, err := store.Write(context.Background(), TasksKey, func([]model.Task, bool) []model.Task { return nil })
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !snap.Present || snap.Value == nil || len(snap.Value) != 0 {
		t.Fatalf("expected present empty slice, got %#v", snap)
	}
}

// TestInMemoryStoreConcurrentWritersDoNotLoseUpdates 验证并发写者不会因交错而丢失彼此的更新。
// 场景：多个 goroutine 同时在同一 key 上 prepend 不同记录，最终所有记录都在。
func TestInMemoryStoreConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx := context.Background()

	numGoroutines := 10
	writesPerGoroutine := 20
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < writesPerGoroutine; j++ {
				task := model.Task{ID: fmt.Sprintf("%d-%d", g, j)}
				if _, err := store.Write(ctx, TasksKey, prepend(task)); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	snap, _ := store.Read(ctx, TasksKey)
	expected := numGoroutines * writesPerGoroutine
	if len(snap.Value) != expected {
		t.Fatalf("expected %d tasks, got %d", expected, len(snap.Value))
	}
	if snap.Version != uint64(expected) {
		t.Fatalf("expected version %d, got %d", expected, snap.Version)
	}
}

// TestInMemoryStoreWriteCanceled 验证 ctx 已取消时写入不会提交。
func TestInMemoryStoreWriteCanceled(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Write(ctx, TasksKey, prepend(model.Task{ID: "1"})); err == nil {
		t.Fatalf("expected context error")
	}
	snap, _ := store.Read(context.Background(), TasksKey)
	if snap.Present {
		t.Fatalf("expected no commit, got %+v", snap)
	}
}

// TestInMemoryStoreWatchDeliversLatest 验证 Watch 收到最新提交，cancel 后通道关闭。
func TestInMemoryStoreWatchDeliversLatest(t *testing.T) {
	store := NewInMemoryStore(nil)
	ctx := context.Background()

	ch, cancel := store.Watch(TasksKey)

	for i := 0; i < 3; i++ {
		if _, err := store.Write(ctx, TasksKey, prepend(model.Task{ID: fmt.Sprint(i)})); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case snap := <-ch:
		if snap.Version != 3 || len(snap.Value) != 3 {
			t.Fatalf("expected latest snapshot (version 3), got %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if got := store.GetStats()["watchers"]; got != 0 {
		t.Fatalf("expected no watchers, got %v", got)
	}
}
