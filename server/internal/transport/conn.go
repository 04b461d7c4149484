package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrClosed 表示连接已被本端关闭。
var ErrClosed = errors.New("transport closed")

// Conn 是一条服务端推送连接。每次 Recv 返回一条完整的文本消息。
// Recv 只允许单个 goroutine 调用；Close 可以在任意 goroutine、任意时刻调用，且可重复调用。
type Conn interface {
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer 建立一条推送连接。ctx 在握手期间有效，连接建立后由 Conn 自己管理生命周期。
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc 让普通函数满足 Dialer。
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// ReconnectCounter 由支持自动重连的连接实现。
type ReconnectCounter interface {
	Reconnects() int64
}

// frameConn 是 SSE 与 WebSocket 共用的部分：后台读循环把消息放进 frames，
// Recv 在 frames / ctx / 关闭信号之间 select，因此 Recv 总能被 ctx 或 Close 打断。
type frameConn struct {
	frames    chan []byte
	closeChan chan struct{}
	readErr   error
}

func newFrameConn() *frameConn {
	return &frameConn{
		frames:    make(chan []byte),
		closeChan: make(chan struct{}),
	}
}

// deliver 由读循环调用；连接关闭时返回 false。
func (f *frameConn) deliver(data []byte) bool {
	select {
	case f.frames <- data:
		return true
	case <-f.closeChan:
		return false
	}
}

// finish 由读循环在退出前调用一次。readErr 的写入先于 close(frames)。
func (f *frameConn) finish(err error) {
	if err == nil {
		err = io.EOF
	}
	f.readErr = err
	close(f.frames)
}

func (f *frameConn) recv(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closeChan:
		return nil, ErrClosed
	default:
	}

	select {
	case data, ok := <-f.frames:
		if !ok {
			return nil, f.readErr
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closeChan:
		return nil, ErrClosed
	}
}

// readErrorBody 读取少量错误信息，便于本地调试；不要把整段 body 透传给上层。
func readErrorBody(resp *http.Response) string {
	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(limited)
}

func statusError(op string, resp *http.Response) error {
	return fmt.Errorf("%s: status=%d body=%s", op, resp.StatusCode, readErrorBody(resp))
}
