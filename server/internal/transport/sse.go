package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
)

// SSEEvent 是从 SSE 流中解析出的一条事件。
type SSEEvent struct {
	// Type 来自 "event:" 字段；未指定时为空串（默认 message 类型）。
	Type string
	// Data 由一行或多行 "data:" 拼成，多行之间以换行连接。
	Data string
	// ID 来自 "id:" 字段。
	ID string
}

// SSEScanner 按 W3C Server-Sent Events 规范从 io.Reader 读取事件。
// 空行分隔事件；":" 开头的注释行与未知字段被忽略。
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next 前进到下一条事件。流结束或出错时返回 false，之后用 Err 区分 EOF 与错误。
func (scanner *SSEScanner) Next() bool {
	scanner.current = SSEEvent{}
	if scanner.err != nil {
		return false
	}

	var dataLines []string
	var eventType, eventID string
	hasData := false

	emit := func() {
		scanner.current = SSEEvent{
			Type: eventType,
			Data: strings.Join(dataLines, "\n"),
			ID:   eventID,
		}
	}

	for {
		line, err := scanner.reader.ReadString('\n')

		// 最后一行没有换行就遇到 EOF。
		if err != nil && line == "" {
			if err == io.EOF && hasData {
				emit()
				scanner.err = io.EOF
				return true
			}
			scanner.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// 空行 = 事件边界。
		if line == "" {
			if hasData {
				emit()
				return true
			}
			eventType = ""
			eventID = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			eventID = value
		default:
			// retry 与未知字段按规范忽略
		}
	}
}

// Event 返回最近一次解析出的事件，只在 Next 返回 true 后有效。
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err 返回扫描过程中的第一个错误；干净的 EOF 返回 nil。
func (scanner *SSEScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}

// SSEDialer 通过 HTTP GET 建立 text/event-stream 连接。每条事件的 data 是一条消息。
type SSEDialer struct {
	URL        string
	HTTPClient *http.Client
	Header     http.Header
	Logger     *log.Logger
}

func (d *SSEDialer) Dial(ctx context.Context) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	httpClient := d.HTTPClient
	if httpClient == nil {
		// 长连接不能设置整体超时
		httpClient = &http.Client{}
	}

	// 连接的生命周期独立于握手 ctx，由 Close 结束。
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, d.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// 握手期间 ctx 取消要能打断请求
	stop := context.AfterFunc(ctx, cancel)
	resp, err := httpClient.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial sse: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := statusError("dial sse", resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("dial sse: unexpected content-type %q", ct)
	}

	c := &sseConn{
		frameConn: newFrameConn(),
		body:      resp.Body,
		cancel:    cancel,
	}
	go c.readLoop()

	logger.Printf("[Transport] connected to sse stream: %s", d.URL)
	return c, nil
}

type sseConn struct {
	*frameConn
	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *sseConn) readLoop() {
	scanner := NewSSEScanner(c.body)
	for scanner.Next() {
		if !c.deliver([]byte(scanner.Event().Data)) {
			c.finish(ErrClosed)
			return
		}
	}
	c.finish(scanner.Err())
}

func (c *sseConn) Recv(ctx context.Context) ([]byte, error) {
	return c.recv(ctx)
}

func (c *sseConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.cancel()
		_ = c.body.Close()
	})
	return nil
}
