package utils

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressSink 作业进度上报. 实现必须是非阻塞的, 上报失败不得影响作业.
type ProgressSink interface {
	Report(message, court string)
}

// ProgressFunc 函数适配器
type ProgressFunc func(message, court string)

func (f ProgressFunc) Report(message, court string) {
	f(message, court)
}

// Report 安全上报: sink为nil时忽略, sink内部panic被吞掉
func Report(sink ProgressSink, message, court string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Debugf("进度上报失败: %v", r)
		}
	}()
	sink.Report(message, court)
}

// LogSink 把进度写入日志
type LogSink struct{}

func (LogSink) Report(message, court string) {
	if court == "" {
		Infof("📌 %s", message)
		return
	}
	Infof("📌 [%s] %s", court, message)
}

// ProgressEvent 一条进度消息
type ProgressEvent struct {
	JobID   string    `json:"job_id,omitempty"`
	Court   string    `json:"court,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ChannelSink 把进度写入通道, 通道满时丢弃消息
type ChannelSink struct {
	JobID   string
	C       chan<- ProgressEvent
	dropped atomic.Int64
}

// NewChannelSink 创建通道上报器
func NewChannelSink(jobID string, c chan<- ProgressEvent) *ChannelSink {
	return &ChannelSink{JobID: jobID, C: c}
}

func (s *ChannelSink) Report(message, court string) {
	ev := ProgressEvent{JobID: s.JobID, Court: court, Message: message, Time: time.Now()}
	select {
	case s.C <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped 被丢弃的消息数
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// BarSink 用最新的进度消息更新进度条描述
type BarSink struct {
	mu  sync.Mutex
	Bar *progressbar.ProgressBar
}

func (s *BarSink) Report(message, court string) {
	if s.Bar == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if court != "" {
		message = court + ": " + message
	}
	s.Bar.Describe(truncateRunes(message, 60))
}

// MultiSink 依次转发给多个sink
type MultiSink []ProgressSink

func (m MultiSink) Report(message, court string) {
	for _, s := range m {
		Report(s, message, court)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
