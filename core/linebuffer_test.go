package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFrame = "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"

// splitAt 按给定偏移切分字节流
func splitAt(s string, offsets ...int) [][]byte {
	var out [][]byte
	prev := 0
	for _, o := range offsets {
		out = append(out, []byte(s[prev:o]))
		prev = o
	}
	return append(out, []byte(s[prev:]))
}

func TestLineBuffer_ChunkingInvariant(t *testing.T) {
	stream := sampleFrame + "event: ping\n" + "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\ndata: [DONE]\n\n"

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"single chunk", splitAt(stream)},
		{"three splits mid line", splitAt(stream, 3, 17, 40)},
		{"split on newline", splitAt(stream, len(sampleFrame)-1, len(sampleFrame))},
	}

	var byteWise [][]byte
	for i := 0; i < len(stream); i++ {
		byteWise = append(byteWise, []byte{stream[i]})
	}
	tests = append(tests, struct {
		name   string
		chunks [][]byte
	}{"byte by byte", byteWise})

	want := strings.Split(strings.TrimSuffix(stream, "\n"), "\n")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b LineBuffer
			var got []string
			for _, c := range tt.chunks {
				got = append(got, b.Push(c)...)
			}
			if line, ok := b.Flush(); ok {
				got = append(got, line)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestLineBuffer_KeepsPartialLine(t *testing.T) {
	var b LineBuffer
	lines := b.Push([]byte("data: {\"a\":1}\ndata: {\"b\""))
	assert.Equal(t, []string{`data: {"a":1}`}, lines)
	assert.Equal(t, len(`data: {"b"`), b.Pending())

	lines = b.Push([]byte(":2}\n"))
	assert.Equal(t, []string{`data: {"b":2}`}, lines)
	assert.Zero(t, b.Pending())

	_, ok := b.Flush()
	assert.False(t, ok)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func TestReadChunks(t *testing.T) {
	t.Run("closes on EOF", func(t *testing.T) {
		var got strings.Builder
		for c := range ReadChunks(context.Background(), strings.NewReader("abcdefgh"), 3) {
			require.NoError(t, c.Err)
			got.Write(c.Data)
		}
		assert.Equal(t, "abcdefgh", got.String())
	})

	t.Run("delivers read error", func(t *testing.T) {
		boom := errors.New("connection reset")
		var last Chunk
		for c := range ReadChunks(context.Background(), &failingReader{data: []byte("x"), err: boom}, 0) {
			last = c
		}
		assert.ErrorIs(t, last.Err, boom)
	})
}
