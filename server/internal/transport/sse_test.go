package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSSEScannerBasic(t *testing.T) {
	t.Parallel()

	input := "event: message\nid: 7\ndata: {\"eventType\":\"TODO_CREATED\"}\n\n: keep-alive\n\ndata: {}\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected first event")
	}
	event := scanner.Event()
	if event.Type != "message" || event.ID != "7" {
		t.Errorf("event = %+v, want type message id 7", event)
	}
	if event.Data != `{"eventType":"TODO_CREATED"}` {
		t.Errorf("event.Data = %q, want JSON", event.Data)
	}

	if !scanner.Next() {
		t.Fatal("expected second event")
	}
	if got := scanner.Event(); got.Data != "{}" || got.Type != "" {
		t.Errorf("second event = %+v", got)
	}

	if scanner.Next() {
		t.Error("expected no more events")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSSEScannerMultipleDataLines(t *testing.T) {
	t.Parallel()

	scanner := NewSSEScanner(strings.NewReader("data: line one\ndata:line two\n\n"))
	if !scanner.Next() {
		t.Fatal("expected event")
	}
	if got := scanner.Event().Data; got != "line one\nline two" {
		t.Errorf("event.Data = %q", got)
	}
}

func TestSSEScannerFinalEventWithoutBlankLine(t *testing.T) {
	t.Parallel()

	scanner := NewSSEScanner(strings.NewReader("data: tail"))
	if !scanner.Next() {
		t.Fatal("expected trailing event")
	}
	if got := scanner.Event().Data; got != "tail" {
		t.Errorf("event.Data = %q, want tail", got)
	}
	if scanner.Next() {
		t.Error("expected no more events")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSSEScannerPropagatesReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	scanner := NewSSEScanner(io.MultiReader(strings.NewReader("data: x\n"), errReader{boom}))
	if scanner.Next() {
		t.Fatal("expected no complete event")
	}
	if !errors.Is(scanner.Err(), boom) {
		t.Errorf("Err() = %v, want boom", scanner.Err())
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// TestSSEDialerReceivesEvents 验证 SSE 连接按顺序返回每条事件的 data，服务端结束后返回 EOF。
func TestSSEDialerReceivesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 1; i <= 2; i++ {
			fmt.Fprintf(w, "data: msg-%d\n\n", i)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&SSEDialer{URL: srv.URL}).Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 1; i <= 2; i++ {
		data, err := conn.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if string(data) != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("recv %d = %q", i, data)
		}
	}

	if _, err := conn.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stream end, got %v", err)
	}
}

// TestSSEDialerRejectsNonStream 验证非 200 或非 event-stream 响应拨号失败。
func TestSSEDialerRejectsNonStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	ctx := context.Background()
	if _, err := (&SSEDialer{URL: srv.URL + "/missing"}).Dial(ctx); err == nil || !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := (&SSEDialer{URL: srv.URL}).Dial(ctx); err == nil || !strings.Contains(err.Error(), "content-type") {
		t.Fatalf("expected content-type error, got %v", err)
	}
}

// TestSSEConnCloseUnblocksRecv 验证阻塞中的 Recv 会被 Close 打断。
func TestSSEConnCloseUnblocksRecv(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	conn, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = conn.Close()
	_ = conn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Recv not unblocked by Close")
	}
}
