package core

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/tidwall/sjson"
)

var (
	ErrClientGone = errors.New("client disconnected")
)

const doneFrame = "data: [DONE]\n\n"

// StreamSink 面向客户端的 SSE 写入器
// 记录响应是否已提交 (头已发送)，提交后错误只能以帧的形式在流内返回
type StreamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu        sync.Mutex
	committed bool
	done      bool
	gone      bool
}

func NewStreamSink(w http.ResponseWriter) *StreamSink {
	f, _ := w.(http.Flusher)
	return &StreamSink{w: w, flusher: f}
}

// Commit 发送 SSE 响应头并立即刷新，防止客户端等待超时 (幂等)
func (s *StreamSink) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked()
}

func (s *StreamSink) commitLocked() {
	if s.committed {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
	s.flushLocked()
}

func (s *StreamSink) flushLocked() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Committed 响应头是否已发送
func (s *StreamSink) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Done 是否已发送终止帧
func (s *StreamSink) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// WriteRaw 写入原始 SSE 文本并刷新；终止帧之后的写入被忽略
func (s *StreamSink) WriteRaw(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return ErrClientGone
	}
	if s.done {
		return nil
	}
	s.commitLocked()

	if _, err := io.WriteString(s.w, text); err != nil {
		s.gone = true
		return err
	}
	s.flushLocked()
	return nil
}

// WriteError 写入单个结构化错误帧 {"error": msg}
func (s *StreamSink) WriteError(msg string) error {
	payload, err := sjson.Set(`{}`, "error", msg)
	if err != nil {
		return err
	}
	return s.WriteRaw("data: " + payload + "\n\n")
}

// WriteDone 写入终止帧，只会写一次
func (s *StreamSink) WriteDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return ErrClientGone
	}
	if s.done {
		return nil
	}
	s.commitLocked()
	s.done = true

	if _, err := io.WriteString(s.w, doneFrame); err != nil {
		s.gone = true
		return err
	}
	s.flushLocked()
	return nil
}

// Abandon 客户端已断开，之后不再写入任何内容
func (s *StreamSink) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone = true
}
