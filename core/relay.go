package core

import (
	"context"
	"errors"
	"io"
	"strings"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// RelayState 流转发状态机
type RelayState int

const (
	StateStreaming RelayState = iota
	StateFunctionCallPending
	StateContinuation
	StateDone
	StateError
)

func (s RelayState) String() string {
	switch s {
	case StateStreaming:
		return "STREAMING"
	case StateFunctionCallPending:
		return "FUNCTION_CALL_PENDING"
	case StateContinuation:
		return "CONTINUATION"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ContinueFunc 以更新后的消息历史重新发起流式请求
type ContinueFunc func(ctx context.Context, messages []models.ChatMessage) (io.ReadCloser, error)

// RelayRequest 单次转发的上下文
type RelayRequest struct {
	RequestID string
	Provider  string
	Endpoint  string
	Model     string
	Messages  []models.ChatMessage
	// Continue 为 nil 时不做函数调用检测，所有帧原样转发
	Continue ContinueFunc
}

// RelayResult 转发结果
type RelayResult struct {
	State         RelayState
	Content       string // 累积的 assistant 文本，用于持久化
	Frames        int
	FunctionCalls int
	Err           error
}

// lineAction 单行处理后的动作
type lineAction int

const (
	lineContinue lineAction = iota
	lineDone
	lineFunctionCall
	lineClientGone
)

// pendingCall 流中逐块累积的函数调用
type pendingCall struct {
	name      string
	arguments strings.Builder
}

// relayRun 一次请求的可变状态 (跨续写共享)
type relayRun struct {
	sink    *StreamSink
	content strings.Builder
	result  RelayResult
}

// StreamRelay 将上游字节流重组为行，校验后以 SSE 帧写给客户端
type StreamRelay struct {
	functions *FunctionRegistry
	errorLog  *StreamErrorLog
	metrics   *Metrics
	logger    *logrus.Logger
	maxDepth  int
}

// NewStreamRelay 创建转发器，maxDepth 限制函数调用续写的递归深度
func NewStreamRelay(functions *FunctionRegistry, errorLog *StreamErrorLog, metrics *Metrics, maxDepth int, logger *logrus.Logger) *StreamRelay {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &StreamRelay{
		functions: functions,
		errorLog:  errorLog,
		metrics:   metrics,
		logger:    logger,
		maxDepth:  maxDepth,
	}
}

// Relay 转发 body 直到终止帧、上游结束、出错或 ctx 结束
// ctx 的截止时间即整个请求的墙钟超时；ctx 被取消 (客户端断开) 时不再写入并中止上游
func (r *StreamRelay) Relay(ctx context.Context, sink *StreamSink, body io.ReadCloser, req RelayRequest) RelayResult {
	run := &relayRun{sink: sink}
	run.result.State = StateStreaming
	r.stream(ctx, run, body, req, 0)
	run.result.Content = run.content.String()
	return run.result
}

func (r *StreamRelay) stream(ctx context.Context, run *relayRun, body io.ReadCloser, req RelayRequest, depth int) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer body.Close()
	defer cancel()

	chunks := ReadChunks(streamCtx, body, 0)
	var lines LineBuffer
	call := &pendingCall{}

	for {
		select {
		case <-ctx.Done():
			r.finishCancelled(ctx, run, req)
			return

		case chunk, ok := <-chunks:
			if !ok {
				// 上游结束：尽力处理残留的半行
				if line, has := lines.Flush(); has {
					switch r.handleLine(run, req, call, line) {
					case lineClientGone:
						r.finishClientGone(run)
						return
					case lineFunctionCall:
						r.continueWithFunction(ctx, run, req, call, depth)
						return
					}
				}
				if call.name != "" && req.Continue != nil {
					r.continueWithFunction(ctx, run, req, call, depth)
					return
				}
				r.finishDone(run)
				return
			}

			if chunk.Err != nil {
				if ctx.Err() != nil {
					r.finishCancelled(ctx, run, req)
					return
				}
				r.finishStreamError(run, req, chunk.Err)
				return
			}

			for _, line := range lines.Push(chunk.Data) {
				switch r.handleLine(run, req, call, line) {
				case lineDone:
					r.finishDone(run)
					return
				case lineClientGone:
					r.finishClientGone(run)
					return
				case lineFunctionCall:
					// 原始流不再需要，立即中止
					cancel()
					body.Close()
					r.continueWithFunction(ctx, run, req, call, depth)
					return
				}
			}
		}
	}
}

// handleLine 处理一个完整行
func (r *StreamRelay) handleLine(run *relayRun, req RelayRequest, call *pendingCall, line string) lineAction {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return lineContinue
	}

	if !strings.HasPrefix(trimmed, "data:") {
		if strings.HasPrefix(trimmed, "event:") || strings.HasPrefix(trimmed, "id:") || strings.HasPrefix(trimmed, "retry:") {
			r.metrics.IncFrame("control")
			if err := run.sink.WriteRaw(trimmed + "\n"); err != nil {
				return lineClientGone
			}
		}
		return lineContinue
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "[DONE]" {
		return lineDone
	}

	if !gjson.Valid(payload) {
		r.metrics.IncFrame("malformed")
		r.logger.Warnf("Invalid JSON in streaming response [%s]: %.120s", req.RequestID, payload)
		return lineContinue
	}

	choices := gjson.Get(payload, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		r.metrics.IncFrame("empty")
		return lineContinue
	}
	first := choices.Array()[0]

	if req.Continue != nil {
		fc := first.Get("delta.function_call")
		if !fc.Exists() {
			fc = first.Get("message.function_call")
		}
		if fc.Exists() {
			if name := fc.Get("name").String(); name != "" {
				call.name = name
			}
			call.arguments.WriteString(fc.Get("arguments").String())
			run.result.State = StateFunctionCallPending
		}
		if first.Get("finish_reason").String() == "function_call" {
			return lineFunctionCall
		}
		if fc.Exists() {
			return lineContinue
		}
	}

	if content := first.Get("delta.content"); content.Type == gjson.String {
		run.content.WriteString(content.String())
	}

	if err := run.sink.WriteRaw(trimmed + "\n\n"); err != nil {
		return lineClientGone
	}
	run.result.Frames++
	r.metrics.IncFrame("data")
	return lineContinue
}

// continueWithFunction 执行函数，将调用与结果追加到历史，再把新请求的流接到客户端
func (r *StreamRelay) continueWithFunction(ctx context.Context, run *relayRun, req RelayRequest, call *pendingCall, depth int) {
	run.result.State = StateFunctionCallPending
	run.result.FunctionCalls++

	if depth+1 > r.maxDepth {
		r.logger.Warnf("Function call depth %d exceeded for request %s", r.maxDepth, req.RequestID)
		r.finishError(run, "Too many function calls in one response", ErrFunctionDepthExceeded)
		return
	}

	if r.functions == nil {
		r.finishError(run, "Function calling is not available", &FunctionError{Name: call.name, Err: ErrFunctionNotFound})
		return
	}

	arguments := call.arguments.String()
	result, err := r.functions.Execute(ctx, call.name, arguments)
	if err != nil {
		if ctx.Err() != nil {
			r.finishCancelled(ctx, run, req)
			return
		}
		r.logger.Errorf("❌ Function %s failed [%s]: %v", call.name, req.RequestID, err)
		r.finishError(run, "Failed to execute function "+call.name, &FunctionError{Name: call.name, Err: err})
		return
	}

	messages := make([]models.ChatMessage, 0, len(req.Messages)+2)
	messages = append(messages, req.Messages...)
	messages = append(messages,
		models.ChatMessage{
			Role:         "assistant",
			FunctionCall: &models.FunctionCall{Name: call.name, Arguments: arguments},
		},
		models.ChatMessage{
			Role:    "function",
			Name:    call.name,
			Content: result,
		},
	)

	run.result.State = StateContinuation
	next, err := req.Continue(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			r.finishCancelled(ctx, run, req)
			return
		}
		r.errorLog.Record(StreamErrorEntry{RequestID: req.RequestID, Endpoint: req.Endpoint, Model: req.Model, Provider: req.Provider, Err: err})
		r.finishError(run, ClientMessage(err), err)
		return
	}

	nextReq := req
	nextReq.Messages = messages
	r.stream(ctx, run, next, nextReq, depth+1)
}

func (r *StreamRelay) finishDone(run *relayRun) {
	if err := run.sink.WriteDone(); err != nil {
		r.finishClientGone(run)
		return
	}
	run.result.State = StateDone
}

func (r *StreamRelay) finishError(run *relayRun, msg string, err error) {
	run.result.State = StateError
	run.result.Err = err
	run.sink.WriteError(msg)
	run.sink.WriteDone()
}

func (r *StreamRelay) finishStreamError(run *relayRun, req RelayRequest, err error) {
	r.logger.Errorf("❌ Stream error [%s] %s: %v", req.RequestID, req.Endpoint, err)
	r.errorLog.Record(StreamErrorEntry{RequestID: req.RequestID, Endpoint: req.Endpoint, Model: req.Model, Provider: req.Provider, Err: err})
	r.finishError(run, "Stream error occurred", &TransportError{Endpoint: req.Endpoint, Err: err})
}

// finishCancelled 超时发送错误帧；客户端断开则放弃写入
func (r *StreamRelay) finishCancelled(ctx context.Context, run *relayRun, req RelayRequest) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warnf("⏱️ Request %s timed out while streaming", req.RequestID)
		r.finishError(run, "Request timed out", ErrStreamTimeout)
		return
	}
	r.logger.Warnf("⚠️ Stream disconnected by client [%s]", req.RequestID)
	r.finishClientGone(run)
}

func (r *StreamRelay) finishClientGone(run *relayRun) {
	run.sink.Abandon()
	run.result.State = StateError
	run.result.Err = ErrClientGone
}
