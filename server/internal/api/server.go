package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"todo-sync/server/internal/config"
	"todo-sync/server/internal/model"
	"todo-sync/server/internal/repository"
)

// Server 是开发用的 relay：持有权威任务存储，每次变更都把事件推送给所有订阅者。
type Server struct {
	config      config.RelayConfig
	store       repository.Store
	broadcaster *Broadcaster
	logger      *log.Logger

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg config.RelayConfig, store repository.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		config:      cfg,
		store:       store,
		broadcaster: NewBroadcaster(cfg.SubscriberBuffer, logger),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Broadcaster 暴露给测试与 cmd，用于观察订阅情况。
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Close 断开所有推送订阅者。
func (s *Server) Close() {
	s.broadcaster.Close()
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)

	v1 := engine.Group("/api/v1")
	v1.GET("/todos", s.handleListTodos)
	v1.POST("/todos", s.handleCreateTodo)
	v1.PATCH("/todos/:id", s.handleUpdateTodo)
	v1.DELETE("/todos/:id", s.handleDeleteTodo)
	v1.GET("/events", s.handleEventStream)
	v1.GET("/events/ws", s.handleEventSocket)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "broadcaster": s.broadcaster.GetStats()})
}

// handleListTodos 返回全部任务（最新的在前）。
func (s *Server) handleListTodos(c *gin.Context) {
	tasks, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Printf("[Relay] ❌ list todos failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list todos failed"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// handleCreateTodo 创建任务并推送 TODO_CREATED。
func (s *Server) handleCreateTodo(c *gin.Context) {
	var req model.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}

	task, err := s.store.Create(c.Request.Context(), title)
	if err != nil {
		s.logger.Printf("[Relay] ❌ create todo failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create todo failed"})
		return
	}

	s.publish(model.EventTypeTaskCreated, task)
	c.JSON(http.StatusCreated, task)
}

// handleUpdateTodo 局部更新任务并推送 TODO_UPDATED。
func (s *Server) handleUpdateTodo(c *gin.Context) {
	var req model.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Title == nil && req.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title must not be empty"})
		return
	}

	task, err := s.store.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeStoreError(c, "update", err)
		return
	}

	s.publish(model.EventTypeTaskUpdated, task)
	c.JSON(http.StatusOK, task)
}

// handleDeleteTodo 删除任务并推送 TODO_DELETED（负载是被删除的完整记录）。
func (s *Server) handleDeleteTodo(c *gin.Context) {
	task, err := s.store.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, "delete", err)
		return
	}

	s.publish(model.EventTypeTaskDeleted, task)
	c.Status(http.StatusNoContent)
}

// handleEventStream 以 SSE 推送事件：每个事件一条 data 行，空闲时发送注释行保活。
func (s *Server) handleEventStream(c *gin.Context) {
	sub, err := s.broadcaster.Subscribe()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer sub.Cancel()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	s.logger.Printf("[Relay] 📡 SSE subscriber connected: %s", c.Request.RemoteAddr)
	heartbeat := s.newHeartbeat()
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[Relay] 🔌 SSE subscriber disconnected: %s", c.Request.RemoteAddr)
			return
		case data, ok := <-sub.C:
			if !ok {
				s.logger.Printf("[Relay] SSE subscription ended: %v", sub.Err())
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			w.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

// handleEventSocket 以 WebSocket 文本帧推送同样的事件。
func (s *Server) handleEventSocket(c *gin.Context) {
	sub, err := s.broadcaster.Subscribe()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[Relay] ❌ Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()
	s.logger.Printf("[Relay] 📡 WebSocket subscriber connected: %s", c.Request.RemoteAddr)

	// 读循环只用于感知对端关闭
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := s.newHeartbeat()
	defer heartbeat.Stop()

	for {
		select {
		case <-peerGone:
			s.logger.Printf("[Relay] 🔌 WebSocket subscriber disconnected: %s", c.Request.RemoteAddr)
			return
		case data, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Printf("[Relay] websocket write failed: %v", err)
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) publish(eventType model.EventType, task model.Task) {
	if err := s.broadcaster.Publish(eventType, task); err != nil {
		// 推送失败不影响 mutation 本身的结果
		s.logger.Printf("[Relay] ⚠️  publish %s failed: %v", eventType, err)
	}
}

func (s *Server) writeStoreError(c *gin.Context, op string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
		return
	}
	s.logger.Printf("[Relay] ❌ %s todo failed: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " todo failed"})
}

// newHeartbeat 在未配置心跳时返回一个永不触发的 ticker。
func (s *Server) newHeartbeat() *time.Ticker {
	if s.config.Heartbeat <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(s.config.Heartbeat)
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
