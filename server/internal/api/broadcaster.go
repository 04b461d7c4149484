package api

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"todo-sync/server/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBroadcasterClosed 表示 Broadcaster 已关闭，不再接受订阅或发布。
var ErrBroadcasterClosed = errors.New("broadcaster closed")

// 每个订阅者的发送缓冲：写满说明读者跟不上，直接踢掉（背压控制）
const defaultSubscriberBuffer = 64

// Subscription 是一个推送连接在 Broadcaster 上的登记。
// C 在订阅被取消、被踢掉或 Broadcaster 关闭时关闭。
type Subscription struct {
	id     int
	C      <-chan []byte
	ch     chan []byte
	b      *Broadcaster
	once   sync.Once
	reason error
}

// Cancel 取消订阅，可重复调用。
func (s *Subscription) Cancel() {
	s.b.remove(s.id, nil)
}

// Err 返回订阅结束的原因（被踢掉时非 nil）。
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.reason
}

// Broadcaster 把每条事件信封编码一次，再扇出给所有订阅者。
// 发布方永远不会被慢订阅者阻塞。
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	buffer int
	closed bool
	now    func() time.Time
	logger *log.Logger

	// 统计信息
	joined    int64
	published int64
	evicted   int64
}

func NewBroadcaster(buffer int, logger *log.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		subs:   make(map[int]*Subscription),
		buffer: buffer,
		now:    time.Now,
		logger: logger,
	}
}

// Subscribe 登记一个新的订阅者。
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBroadcasterClosed
	}
	ch := make(chan []byte, b.buffer)
	sub := &Subscription{id: b.nextID, C: ch, ch: ch, b: b}
	b.subs[sub.id] = sub
	b.nextID++
	b.joined++

	b.logger.Printf("[Relay] subscriber %d joined (total: %d)", sub.id, len(b.subs))
	return sub, nil
}

// Publish 把任务变更包装成 {eventType, payload, timestamp} 信封并推送给所有订阅者。
func (b *Broadcaster) Publish(eventType model.EventType, task model.Task) error {
	data, err := json.Marshal(model.EventMessage{
		EventType: eventType,
		Payload:   task,
		Timestamp: b.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.PublishRaw(data)
}

// PublishRaw 原样推送一条消息。
func (b *Broadcaster) PublishRaw(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBroadcasterClosed
	}
	b.published++

	for id, sub := range b.subs {
		select {
		case sub.ch <- data:
		default:
			b.logger.Printf("[Relay] ⚠️  subscriber %d too slow, dropping", id)
			b.evicted++
			b.removeLocked(id, errors.New("subscriber too slow"))
		}
	}
	return nil
}

func (b *Broadcaster) remove(id int, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id, reason)
}

func (b *Broadcaster) removeLocked(id int, reason error) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	sub.reason = reason
	sub.once.Do(func() { close(sub.ch) })
}

// Close 关闭所有订阅者通道。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id := range b.subs {
		b.removeLocked(id, ErrBroadcasterClosed)
	}
	b.logger.Printf("[Relay] broadcaster closed: published=%d evicted=%d", b.published, b.evicted)
}

// GetStats 获取广播统计信息
func (b *Broadcaster) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"subscribers": len(b.subs),
		"joined":      b.joined,
		"published":   b.published,
		"evicted":     b.evicted,
	}
}
