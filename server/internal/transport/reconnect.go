package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Reconnecting 包装一个 Dialer，提供自动重连：
// 连接读失败（包括服务端正常结束流）时通过 OnDisconnect 上报，然后按限速重新拨号。
// 调用方看到的是一条“永不断开”的连接，直到 Close 或 ctx 取消。
type Reconnecting struct {
	Dialer Dialer
	// Interval/Burst 控制拨号速率：最多突发 Burst 次，之后每 Interval 一次。
	Interval time.Duration
	Burst    int
	// MaxAttempts 为连续拨号失败的上限，0 表示不限。
	MaxAttempts int
	// OnDisconnect 在每次拨号失败或连接中断时调用，不影响控制流。
	OnDisconnect func(err error)
	Logger       *log.Logger
}

func (r *Reconnecting) Dial(ctx context.Context) (Conn, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &reconnectingConn{
		parent:     r,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		logger:     logger,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	conn, err := c.dialLoop(ctx)
	if err != nil {
		lifeCancel()
		return nil, err
	}
	c.cur = conn
	return c, nil
}

type reconnectingConn struct {
	parent  *Reconnecting
	limiter *rate.Limiter
	logger  *log.Logger

	mu         sync.Mutex
	cur        Conn
	closed     bool
	reconnects int64

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func (c *reconnectingConn) Recv(ctx context.Context) ([]byte, error) {
	// Close 也要能打断阻塞中的 Recv/拨号
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifeCtx, cancel)
	defer stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		cur := c.cur
		c.mu.Unlock()

		data, err := cur.Recv(ctx)
		if err == nil {
			return data, nil
		}
		if c.isClosed() {
			return nil, ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.report(fmt.Errorf("connection lost: %w", err))
		_ = cur.Close()

		next, err := c.dialLoop(ctx)
		if err != nil {
			if c.isClosed() {
				return nil, ErrClosed
			}
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return nil, ErrClosed
		}
		c.cur = next
		c.reconnects++
		n := c.reconnects
		c.mu.Unlock()
		c.logger.Printf("[Transport] 🔁 reconnected (reconnects=%d)", n)
	}
}

// dialLoop 按限速拨号直到成功、ctx 取消或超过 MaxAttempts。
func (c *reconnectingConn) dialLoop(ctx context.Context) (Conn, error) {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		conn, err := c.parent.Dialer.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.report(err)
		if c.parent.MaxAttempts > 0 && attempt >= c.parent.MaxAttempts {
			return nil, fmt.Errorf("dial failed after %d attempts: %w", attempt, err)
		}
	}
}

func (c *reconnectingConn) report(err error) {
	c.logger.Printf("[Transport] ⚠️  %v", err)
	if c.parent.OnDisconnect != nil {
		c.parent.OnDisconnect(err)
	}
}

func (c *reconnectingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *reconnectingConn) Reconnects() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *reconnectingConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cur := c.cur
	c.mu.Unlock()

	c.lifeCancel()
	if cur != nil {
		return cur.Close()
	}
	return nil
}
