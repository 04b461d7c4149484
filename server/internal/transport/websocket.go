package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// WebSocketDialer 建立 WebSocket 推送连接。文本帧是消息，二进制帧被忽略。
type WebSocketDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           *log.Logger
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: status=%d err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	c := &wsConn{
		frameConn: newFrameConn(),
		conn:      conn,
		logger:    logger,
	}
	go c.readLoop()

	logger.Printf("[Transport] connected to websocket stream: %s", d.URL)
	return c, nil
}

type wsConn struct {
	*frameConn
	conn      *websocket.Conn
	closeOnce sync.Once
	logger    *log.Logger
}

func (c *wsConn) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !c.deliver(data) {
			c.finish(ErrClosed)
			return
		}
	}
}

func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	return c.recv(ctx)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = c.conn.Close()
	})
	return err
}
