package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"todo-sync/server/internal/cache"
	"todo-sync/server/internal/diag"
	"todo-sync/server/internal/journal"
	"todo-sync/server/internal/model"
	"todo-sync/server/internal/reducer"
	"todo-sync/server/internal/transport"
)

// ErrAlreadyActivated 表示同一个 Consumer 被激活了第二次。
var ErrAlreadyActivated = errors.New("consumer already activated")

// State 是 Consumer 的生命周期状态：Connecting → Open → Closed（终态）。
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Consumer 拥有一条服务端推送连接，并把其中的消息逐条校验、归约后写入缓存。
// 职责：
// 1. 每次激活只持有一个连接句柄；任何退出路径都会释放它
// 2. 消息串行处理：一条消息完整校验并写入缓存后才读下一条
// 3. 单条消息的任何失败都只上报诊断并丢弃，不会中断会话
// 4. 不做重连：重连由 transport 层负责，本层只依赖 reducer 的幂等性在重放后收敛
type Consumer struct {
	dialer  transport.Dialer
	store   cache.Store
	key     cache.Key
	sink    diag.Sink
	journal journal.Store
	name    string
	logger  *log.Logger
	debug   bool

	state atomic.Int32

	mu        sync.Mutex
	conn      transport.Conn
	activated bool
	closed    bool
	cancelRun context.CancelFunc
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}

	// 统计信息
	received atomic.Int64
	applied  atomic.Int64
	dropped  atomic.Int64
}

// Option 配置 Consumer。
type Option func(*Consumer)

// WithKey 指定写入的缓存 key，默认 cache.TasksKey。
func WithKey(key cache.Key) Option {
	return func(c *Consumer) { c.key = key }
}

// WithJournal 把每条已应用事件记录到 journal 的 stream 下。
func WithJournal(j journal.Store, stream string) Option {
	return func(c *Consumer) {
		c.journal = j
		c.name = stream
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// WithDebug 打开逐条消息的日志。
func WithDebug(debug bool) Option {
	return func(c *Consumer) { c.debug = debug }
}

// New 创建 Consumer。store 与 sink 由调用方注入，不使用任何进程级单例。
func New(dialer transport.Dialer, store cache.Store, sink diag.Sink, opts ...Option) *Consumer {
	c := &Consumer{
		dialer: dialer,
		store:  store,
		key:    cache.TasksKey,
		sink:   sink,
		name:   string(cache.TasksKey),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if c.sink == nil {
		c.sink = diag.NewLogSink(c.logger)
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State 返回当前生命周期状态。
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Done 在 Consumer 进入 Closed 后关闭。
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Results 返回一个惰性序列：每条入站消息对应一个 Result（事件或诊断）。
// 迭代开始时拨号（Connecting → Open），迭代结束（break、ctx 取消、Close、传输失败、panic）时
// 释放连接并进入 Closed。同一个 Consumer 只能激活一次，第二次迭代不产生任何结果。
// 传输失败会作为最后一个 Result（KindTransport）产出。
func (c *Consumer) Results(ctx context.Context) iter.Seq[Result] {
	return c.results(ctx, nil)
}

func (c *Consumer) results(ctx context.Context, activationErr *error) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		runCtx, conn, err := c.acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrAlreadyActivated) {
				c.logger.Printf("[Consumer] ⚠️  %v", err)
				if activationErr != nil {
					*activationErr = err
				}
				return
			}
			defer c.release()
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			yield(transportFailure(fmt.Errorf("connect: %w", err)))
			return
		}
		defer c.release()

		for {
			raw, err := conn.Recv(runCtx)
			if err != nil {
				if c.isClosed() || ctx.Err() != nil {
					return
				}
				yield(transportFailure(err))
				return
			}
			c.received.Add(1)

			if !yield(Decode(raw)) {
				return
			}
		}
	}
}

// Run 驱动 Results：事件经 reducer 归约后原子写入缓存，诊断交给 sink。
// 返回值：Close 导致的退出返回 nil；ctx 取消返回 ctx.Err()；传输层终止返回包装后的错误。
func (c *Consumer) Run(ctx context.Context) error {
	var transportErr, activationErr error

	for res := range c.results(ctx, &activationErr) {
		if d := res.Diagnostic; d != nil {
			if d.Kind == diag.KindTransport {
				transportErr = d.Err
			} else {
				c.dropped.Add(1)
			}
			c.sink.Report(*d)
			continue
		}
		c.apply(ctx, *res.Event)
	}

	if activationErr != nil {
		return activationErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if transportErr != nil {
		return fmt.Errorf("stream closed: %w", transportErr)
	}
	return nil
}

// apply 在一次 Store.Write 中完成归约；updater 是纯函数，CAS 冲突时可安全重试。
func (c *Consumer) apply(ctx context.Context, evt model.TaskEvent) {
	if !evt.Type.Known() {
		c.dropped.Add(1)
		c.sink.Report(diag.Diagnostic{
			Severity: diag.SeverityWarn,
			Kind:     diag.KindUnknownEventType,
			Message:  fmt.Sprintf("unhandled event type: %s", evt.Type),
			Raw:      evt,
			Err:      ErrUnknownEventType,
			At:       time.Now(),
		})
		return
	}

	snap, err := c.store.Write(ctx, c.key, func(prev []model.Task, present bool) []model.Task {
		var current []model.Task
		if present {
			current = prev
			if current == nil {
				current = []model.Task{}
			}
		}
		next, _ := reducer.ReduceEvent(evt, current)
		return next
	})
	if err != nil {
		if ctx.Err() != nil {
			// 正在关闭：缓存保持写入前的状态
			return
		}
		c.dropped.Add(1)
		c.sink.Report(diag.Diagnostic{
			Severity: diag.SeverityError,
			Kind:     diag.KindCacheWrite,
			Message:  "failed to apply event to cache",
			Raw:      evt,
			Err:      err,
			At:       time.Now(),
		})
		return
	}
	c.applied.Add(1)

	if c.debug {
		c.logger.Printf("[Consumer] applied event: type=%s id=%s version=%d size=%d",
			evt.Type, evt.Task.ID, snap.Version, len(snap.Value))
	}

	if c.journal != nil {
		entry := &journal.Entry{
			Event:      evt,
			AppliedAt:  time.Now().UnixMilli(),
			Version:    snap.Version,
			Reconnects: c.reconnects(),
		}
		if _, err := c.journal.Append(ctx, c.name, entry); err != nil {
			c.logger.Printf("[Consumer] ⚠️  journal append failed: %v", err)
		}
	}
}

// acquire 拨号并登记连接句柄。Close 会取消 runCtx，从而打断拨号与 Recv。
func (c *Consumer) acquire(ctx context.Context) (context.Context, transport.Conn, error) {
	c.mu.Lock()
	if c.activated {
		c.mu.Unlock()
		return nil, nil, ErrAlreadyActivated
	}
	c.activated = true
	if c.closed {
		c.mu.Unlock()
		return nil, nil, transport.ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	c.logger.Printf("[Consumer] connecting stream=%s", c.name)

	conn, err := c.dialer.Dial(runCtx)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, nil, transport.ErrClosed
	}
	c.conn = conn
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	c.logger.Printf("[Consumer] ✅ stream open: %s", c.name)
	return runCtx, conn, nil
}

// release 无条件释放连接句柄并进入 Closed，可重复调用。
func (c *Consumer) release() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.cancelRun
	c.cancelRun = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Printf("[Consumer] close connection: %v", err)
		}
	}

	c.state.Store(int32(StateClosed))
	c.doneOnce.Do(func() {
		close(c.done)
		c.logger.Printf("[Consumer] 🔌 stream closed: %s received=%d applied=%d dropped=%d",
			c.name, c.received.Load(), c.applied.Load(), c.dropped.Load())
	})
}

// Close 在任意时刻释放连接（包括校验进行中）。缓存只会停留在某个完整提交的版本上。
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.release()
	})
	return nil
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) reconnects() int64 {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if rc, ok := conn.(transport.ReconnectCounter); ok {
		return rc.Reconnects()
	}
	return 0
}

// GetStats 获取消费统计信息
func (c *Consumer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"stream":   c.name,
		"state":    c.State().String(),
		"received": c.received.Load(),
		"applied":  c.applied.Load(),
		"dropped":  c.dropped.Load(),
	}
}

func transportFailure(err error) Result {
	return Result{Diagnostic: &diag.Diagnostic{
		Severity: diag.SeverityError,
		Kind:     diag.KindTransport,
		Message:  "stream connection error",
		Err:      err,
		At:       time.Now(),
	}}
}
