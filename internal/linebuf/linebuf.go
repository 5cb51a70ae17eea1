// Package linebuf splits a byte stream into terminated lines.
package linebuf

import (
	"bytes"

	"github.com/arloliu/go-labrpc/internal/queue"
)

// Buffer accumulates received bytes and queues every complete line.
// The bytes after the last termination stay buffered until more data arrives.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	term    []byte
	partial []byte
	lines   queue.Queue[string]
	// skip drops input up to the next termination.
	skip bool
}

// New creates a Buffer splitting on term. An empty term falls back to "\n".
func New(term string) *Buffer {
	if term == "" {
		term = "\n"
	}

	return &Buffer{
		term:  []byte(term),
		lines: queue.NewSliceQueue[string](8),
	}
}

// Feed appends data and returns the number of lines completed by it.
func (b *Buffer) Feed(data []byte) int {
	b.partial = append(b.partial, data...)

	if b.skip {
		idx := bytes.Index(b.partial, b.term)
		if idx < 0 {
			// keep what may be the start of a split termination
			if keep := len(b.term) - 1; len(b.partial) > keep {
				b.partial = append(b.partial[:0], b.partial[len(b.partial)-keep:]...)
			}

			return 0
		}
		b.partial = b.partial[idx+len(b.term):]
		b.skip = false
	}

	n := 0
	for {
		idx := bytes.Index(b.partial, b.term)
		if idx < 0 {
			break
		}
		b.lines.Enqueue(string(b.partial[:idx]))
		b.partial = b.partial[idx+len(b.term):]
		n++
	}

	if len(b.partial) == 0 {
		b.partial = nil
	}

	return n
}

// Append adds data to the unsplit tail without looking for terminations.
func (b *Buffer) Append(data []byte) {
	b.partial = append(b.partial, data...)
}

// Take removes and returns up to n bytes from the unsplit tail.
func (b *Buffer) Take(n int) []byte {
	n = min(n, len(b.partial))
	out := make([]byte, n)
	copy(out, b.partial)
	b.partial = b.partial[n:]

	return out
}

// Next removes and returns the oldest complete line.
func (b *Buffer) Next() (string, bool) {
	return b.lines.Dequeue()
}

// Lines returns the number of complete lines waiting.
func (b *Buffer) Lines() int {
	return b.lines.Length()
}

// Pending returns the number of buffered bytes that do not form a line yet.
func (b *Buffer) Pending() int {
	return len(b.partial)
}

// Discard drops the partial tail and the rest of its line still to come.
// Feed resumes splitting after the next termination.
func (b *Buffer) Discard() {
	b.partial = nil
	b.skip = true
}

// Reset drops complete lines and the partial tail.
func (b *Buffer) Reset() {
	b.lines.Reset()
	b.partial = nil
	b.skip = false
}
