package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo-sync/server/internal/model"
)

// TestBadgerStoreRestoresSnapshotAfterReopen 验证关闭后重新打开能恢复最近一次快照与版本号。
func TestBadgerStoreRestoresSnapshotAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir, nil)
	require.NoError(t, err)

	tasks := []model.Task{
		{ID: "2", Title: "Patrol", CreatedAt: "t1"},
		{ID: "1", Title: "Report", Completed: true, CreatedAt: "t0"},
	}
	_, err = store.Write(ctx, TasksKey, Replace(tasks))
	require.NoError(t, err)
	snap, err := store.Write(ctx, TasksKey, prepend(model.Task{ID: "3", Title: "Sweep", CreatedAt: "t2"}))
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Version)
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	restored, err := reopened.Read(ctx, TasksKey)
	require.NoError(t, err)
	assert.True(t, restored.Present)
	assert.Equal(t, uint64(2), restored.Version)
	assert.Equal(t, snap.Value, restored.Value)

	next, err := reopened.Write(ctx, TasksKey, Replace(nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.Version)
	assert.Empty(t, next.Value)
}

// TestBadgerStorePersistSkipsOlderVersion 验证旧版本快照不会覆盖已落盘的新版本。
func TestBadgerStorePersistSkipsOlderVersion(t *testing.T) {
	store, err := OpenBadgerStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	newer := Snapshot{Value: []model.Task{{ID: "new"}}, Version: 5, Present: true}
	older := Snapshot{Value: []model.Task{{ID: "old"}}, Version: 4, Present: true}
	require.NoError(t, store.persist(TasksKey, newer))
	require.NoError(t, store.persist(TasksKey, older))

	// 用同一个 db 重新构建内存层，看到的应该是新版本。
	rebuilt, err := NewBadgerStore(store.db, nil)
	require.NoError(t, err)
	snap, err := rebuilt.Read(context.Background(), TasksKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Version)
	assert.Equal(t, "new", snap.Value[0].ID)
}
