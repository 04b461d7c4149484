package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"todo-sync/server/internal/model"
)

// ErrNotFound 表示服务端没有该任务（404）。
var ErrNotFound = errors.New("todo not found")

// Client 封装任务服务的 bulk-read 与 mutation 接口。
// 约定：mutation 的响应只返回给调用方，从不直接写入缓存；缓存只由推送事件驱动。
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // 默认 http://localhost:8080
}

// ListTasks 拉取全部任务：GET /api/v1/todos。
func (c *Client) ListTasks(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/todos", nil, http.StatusOK, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

// CreateTask 创建任务：POST /api/v1/todos，期望 201。
func (c *Client) CreateTask(ctx context.Context, title string) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodPost, "/api/v1/todos", model.CreateTaskRequest{Title: title}, http.StatusCreated, &task)
	return task, err
}

// UpdateTask 局部更新：PATCH /api/v1/todos/:id。
func (c *Client) UpdateTask(ctx context.Context, id string, req model.UpdateTaskRequest) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodPatch, "/api/v1/todos/"+url.PathEscape(id), req, http.StatusOK, &task)
	return task, err
}

// DeleteTask 删除任务：DELETE /api/v1/todos/:id，期望 204。
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/todos/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode != wantStatus {
		// 只读取少量错误信息，便于本地调试
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, string(limited))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
