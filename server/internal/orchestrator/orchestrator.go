package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"todo-sync/server/internal/cache"
	"todo-sync/server/internal/config"
	"todo-sync/server/internal/diag"
	"todo-sync/server/internal/journal"
	"todo-sync/server/internal/model"
	"todo-sync/server/internal/stream"
	"todo-sync/server/internal/transport"
)

// TaskAPI 是 request/response 协作方：批量读取与创建。
type TaskAPI interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, title string) (model.Task, error)
}

// Orchestrator 负责把各组件装配成一条完整的同步链路。
//
// 职责与契约：
// - 初始加载：bulk read 的结果通过 cache.Write 整体替换（同样走 CAS）。
// - 之后缓存只由推送事件驱动：CreateTask 的响应不回写缓存。
// - 诊断集中：消息级故障、连接断开、初始加载失败都进入同一个 diag.Sink。
type Orchestrator struct {
	cfg     *config.Config
	api     TaskAPI
	store   cache.Store
	journal journal.Store
	sink    diag.Sink
	logger  *log.Logger
	now     func() time.Time

	// newDialer 默认按配置构造，测试可替换。
	newDialer func() transport.Dialer
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithJournal(j journal.Store) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithDialer 替换按配置构造的推送连接。
func WithDialer(d transport.Dialer) Option {
	return func(o *Orchestrator) { o.newDialer = func() transport.Dialer { return d } }
}

func New(cfg *config.Config, api TaskAPI, store cache.Store, sink diag.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		api:   api,
		store: store,
		sink:  sink,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.sink == nil {
		o.sink = diag.NewLogSink(o.logger)
	}
	if o.newDialer == nil {
		o.newDialer = o.configuredDialer
	}
	return o
}

// Bootstrap 执行初始批量加载。失败时保留缓存中已有（可能是持久化恢复的）快照并上报诊断。
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	tasks, err := o.api.ListTasks(ctx)
	if err != nil {
		prev, _ := o.store.Read(ctx, cache.TasksKey)
		o.sink.Report(diag.Diagnostic{
			Severity: diag.SeverityError,
			Kind:     diag.KindTransport,
			Message:  fmt.Sprintf("initial load failed, keeping cached snapshot (version=%d size=%d)", prev.Version, len(prev.Value)),
			Err:      err,
			At:       o.now(),
		})
		return fmt.Errorf("initial load: %w", err)
	}

	snap, err := o.store.Write(ctx, cache.TasksKey, cache.Replace(tasks))
	if err != nil {
		return fmt.Errorf("initial load: write cache: %w", err)
	}
	o.logger.Printf("[Orchestrator] ✅ initial load: %d tasks (version=%d)", len(snap.Value), snap.Version)
	return nil
}

// CreateTask 把创建请求转交给 mutation endpoint。缓存等待对应的 TODO_CREATED 事件再更新。
func (o *Orchestrator) CreateTask(ctx context.Context, title string) (model.Task, error) {
	task, err := o.api.CreateTask(ctx, title)
	if err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// NewConsumer 创建一个写入本 Orchestrator 缓存的 Stream Consumer。
func (o *Orchestrator) NewConsumer() *stream.Consumer {
	opts := []stream.Option{
		stream.WithLogger(o.logger),
		stream.WithDebug(o.cfg.Debug()),
	}
	if o.journal != nil {
		opts = append(opts, stream.WithJournal(o.journal, string(cache.TasksKey)))
	}
	return stream.New(o.newDialer(), o.store, o.sink, opts...)
}

// Run 先做初始加载（失败不终止），再消费推送流直到 ctx 取消或连接终止。
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Bootstrap(ctx); err != nil {
		o.logger.Printf("[Orchestrator] ⚠️  %v", err)
	}

	consumer := o.NewConsumer()
	defer consumer.Close()

	err := consumer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// configuredDialer 按配置选择 SSE 或 WebSocket，并在开启时包上限速重连。
func (o *Orchestrator) configuredDialer() transport.Dialer {
	sc := o.cfg.Stream

	var base transport.Dialer
	switch sc.Transport {
	case config.TransportWebSocket:
		base = &transport.WebSocketDialer{
			URL:              sc.URL,
			HandshakeTimeout: sc.HandshakeTimeout,
			Logger:           o.logger,
		}
	default:
		base = &transport.SSEDialer{URL: sc.URL, Logger: o.logger}
	}

	if !sc.Reconnect {
		return base
	}
	return &transport.Reconnecting{
		Dialer:      base,
		Interval:    sc.ReconnectInterval,
		Burst:       sc.ReconnectBurst,
		MaxAttempts: sc.MaxAttempts,
		OnDisconnect: func(err error) {
			o.sink.Report(diag.Diagnostic{
				Severity: diag.SeverityWarn,
				Kind:     diag.KindTransport,
				Message:  "stream disconnected, reconnecting",
				Err:      err,
				At:       o.now(),
			})
		},
		Logger: o.logger,
	}
}
