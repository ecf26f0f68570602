// Package capture collects process output while enforcing a size limit as
// bytes arrive.
package capture

import (
	"bytes"
	"sync"
	"unicode/utf8"
)

// Buffer is an io.Writer that keeps at most limit bytes. The first write
// that would exceed the limit invokes the breach callback exactly once;
// later bytes are discarded so the writer never blocks the producer. A
// multi-byte character cut by the limit is dropped whole.
type Buffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	breached bool
	onBreach func()
}

// NewBuffer creates a Buffer. A limit <= 0 disables the cap.
func NewBuffer(limit int, onBreach func()) *Buffer {
	return &Buffer{limit: limit, onBreach: onBreach}
}

// Write implements io.Writer. It always reports the full length as written.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n := len(p)
	if b.breached {
		b.mu.Unlock()
		return n, nil
	}

	if b.limit > 0 && b.buf.Len()+len(p) > b.limit {
		b.buf.Write(p[:b.limit-b.buf.Len()])
		b.buf.Truncate(b.buf.Len() - partialRune(b.buf.Bytes()))
		b.breached = true
		fn := b.onBreach
		b.mu.Unlock()
		if fn != nil {
			fn()
		}
		return n, nil
	}

	b.buf.Write(p)
	b.mu.Unlock()
	return n, nil
}

// String returns the captured output.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// partialRune returns the length of the UTF-8 sequence left unfinished at
// the end of p. Bytes that are not UTF-8 at all are kept as they are.
func partialRune(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		tail := p[len(p)-i:]
		if utf8.RuneStart(tail[0]) {
			if utf8.FullRune(tail) {
				return 0
			}
			return i
		}
	}
	return 0
}
