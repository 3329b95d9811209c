package core

import (
	"bytes"
	"context"
	"io"
)

// LineBuffer 将任意切分的字节块重组为完整行
// 最后一个不完整的行保留在缓冲区中，等待下一个块
type LineBuffer struct {
	buf []byte
}

// Push 追加一个块，返回其中所有完整行 (不含换行符)
func (b *LineBuffer) Push(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(b.buf[:idx]))
		b.buf = b.buf[idx+1:]
	}

	// 释放已消费的底层数组
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Flush 取出剩余的不完整行
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.buf) == 0 {
		return "", false
	}
	line := string(b.buf)
	b.buf = nil
	return line, true
}

// Pending 返回缓冲区中未完成的字节数
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Chunk 上游字节流中的一个块
type Chunk struct {
	Data []byte
	Err  error
}

// ReadChunks 在后台读取 r 并按块投递到 channel
// 读到 EOF 时关闭 channel；其他读错误先投递再关闭；ctx 取消时停止投递
func ReadChunks(ctx context.Context, r io.Reader, size int) <-chan Chunk {
	if size <= 0 {
		size = 4096
	}
	out := make(chan Chunk)

	go func() {
		defer close(out)
		for {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case out <- Chunk{Data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out
}
