package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientListTasksNewestFirst 验证批量读取返回服务端顺序（最新在前）。
func TestClientListTasksNewestFirst(t *testing.T) {
	_, srv := newTestRelay(t)
	client := &Client{BaseURL: srv.URL + "/"}
	ctx := context.Background()

	tasks, err := client.ListTasks(ctx)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)

	_, err = client.CreateTask(ctx, "first")
	require.NoError(t, err)
	_, err = client.CreateTask(ctx, "second")
	require.NoError(t, err)

	tasks, err = client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "second", tasks[0].Title)
	assert.Equal(t, "first", tasks[1].Title)
}

func TestClientNotFound(t *testing.T) {
	_, srv := newTestRelay(t)
	err := (&Client{BaseURL: srv.URL}).DeleteTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

// TestClientUnexpectedStatus 验证非预期状态码返回包含状态与截断 body 的错误。
func TestClientUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 10000), http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).CreateTask(context.Background(), "Patrol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
	assert.Less(t, len(err.Error()), 5000)
}

func TestClientDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).ListTasks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
