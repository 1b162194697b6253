// Package pipe collects a test process's raw text output through an os pipe,
// keeping at most a fixed number of bytes. The runner records this output
// next to the structured comms capture; a runaway test spamming its streams
// must not exhaust the runner's memory.
package pipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// OutputBuffer captures up to Max bytes written into W. W is handed to the
// child process as its stdout or stderr; the parent's copy of W must be
// closed after the child is started, otherwise Done never closes.
type OutputBuffer struct {
	W   *os.File
	Max int64

	buf  bytes.Buffer
	done chan struct{}
}

// NewOutputBuffer creates the pipe and starts the collector goroutine. The
// goroutine keeps draining the pipe after the limit is reached so the child
// never blocks on a full pipe or dies to SIGPIPE.
func NewOutputBuffer(max int64) (*OutputBuffer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("NewOutputBuffer: %w", err)
	}

	b := &OutputBuffer{
		W:    w,
		Max:  max,
		done: make(chan struct{}),
	}
	go func() {
		io.CopyN(&b.buf, r, max+1)
		close(b.done)
		io.Copy(io.Discard, r)
		r.Close()
	}()
	return b, nil
}

// Done is closed once the limit is reached or the write end is closed
// everywhere. Bytes and Truncated must not be called before Done.
func (b *OutputBuffer) Done() <-chan struct{} {
	return b.done
}

// Bytes returns the captured output, at most Max bytes.
func (b *OutputBuffer) Bytes() []byte {
	out := b.buf.Bytes()
	if int64(len(out)) > b.Max {
		out = out[:b.Max]
	}
	return out
}

// Truncated reports whether the child wrote more than Max bytes.
func (b *OutputBuffer) Truncated() bool {
	return int64(b.buf.Len()) > b.Max
}

func (b *OutputBuffer) String() string {
	return fmt.Sprintf("OutputBuffer[%d/%d]", b.buf.Len(), b.Max)
}
