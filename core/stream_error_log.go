package core

import (
	"io"

	"github.com/sirupsen/logrus"
)

const streamErrorBodyLimit = 2000

// StreamErrorEntry 一条流错误记录
type StreamErrorEntry struct {
	RequestID  string
	Endpoint   string
	Model      string
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

// StreamErrorLog 将上游流错误以 JSON 行追加到独立文件，便于事后分析
type StreamErrorLog struct {
	logger *logrus.Logger
	closer io.Closer
}

// NewStreamErrorLog 创建流错误日志，文件通过 LogRotator 轮转
func NewStreamErrorLog(filename string, maxSizeMB int) (*StreamErrorLog, error) {
	rotator, err := NewLogRotator(filename, maxSizeMB)
	if err != nil {
		return nil, err
	}
	return newStreamErrorLog(rotator, rotator), nil
}

func newStreamErrorLog(w io.Writer, closer io.Closer) *StreamErrorLog {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.ErrorLevel)
	return &StreamErrorLog{logger: l, closer: closer}
}

// Record 记录一条流错误，nil 接收者安全
func (l *StreamErrorLog) Record(e StreamErrorEntry) {
	if l == nil {
		return
	}

	body := e.Body
	if len(body) > streamErrorBodyLimit {
		body = body[:streamErrorBodyLimit]
	}

	fields := logrus.Fields{
		"request_id": e.RequestID,
		"endpoint":   e.Endpoint,
		"model":      e.Model,
		"provider":   e.Provider,
	}
	if e.StatusCode > 0 {
		fields["status"] = e.StatusCode
	}
	if body != "" {
		fields["body"] = body
	}

	entry := l.logger.WithFields(fields)
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	entry.Error("stream error")
}

func (l *StreamErrorLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
