package diag

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Severity 诊断级别。
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Kind 对应被丢弃消息/连接故障的分类。
type Kind string

const (
	KindDecode           Kind = "decode"             // 原始消息不是合法 JSON
	KindEnvelope         Kind = "envelope"           // 信封形状不对
	KindPayload          Kind = "payload"            // 负载不符合 Todo schema
	KindUnknownEventType Kind = "unknown_event_type" // 类型标签不在枚举内
	KindTransport        Kind = "transport"          // 连接断开/不可达
	KindCacheWrite       Kind = "cache_write"        // 缓存写入失败（持久化等）
)

// Diagnostic 描述一次被丢弃的消息或一次传输层故障。
// Raw 保存出问题的原始值，便于排查；对控制流没有任何影响。
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Message  string
	Raw      any
	Err      error
	At       time.Time
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s %s: %s", d.Severity, d.Kind, d.Message)
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

// Sink 接收诊断。实现必须是非阻塞且不 panic 的。
type Sink interface {
	Report(d Diagnostic)
}

// SinkFunc 让普通函数满足 Sink。
type SinkFunc func(d Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// LogSink 把诊断写到日志。
type LogSink struct {
	Logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Report(d Diagnostic) {
	icon := "⚠️ "
	if d.Severity == SeverityError {
		icon = "❌"
	}
	if d.Raw != nil {
		s.Logger.Printf("[Diag] %s %s raw=%v", icon, d, d.Raw)
		return
	}
	s.Logger.Printf("[Diag] %s %s", icon, d)
}

// Recorder 在内存中保存诊断并按 Kind 计数，测试和 CLI 统计都用它。
type Recorder struct {
	mu     sync.Mutex
	items  []Diagnostic
	counts map[Kind]int64
}

func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[Kind]int64)}
}

func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	r.counts[d.Kind]++
}

// Diagnostics 返回已记录诊断的副本。
func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	return out
}

// Count 返回某一类诊断的数量。
func (r *Recorder) Count(kind Kind) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

// GetStats 获取按 Kind 汇总的统计信息
func (r *Recorder) GetStats() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		out[string(k)] = v
	}
	return out
}

// Multi 把诊断广播给多个 Sink，nil 会被跳过。
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s.Report(d)
			}
		}
	})
}
