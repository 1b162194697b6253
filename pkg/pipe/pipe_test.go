package pipe

import (
	"strings"
	"testing"
	"time"
)

func TestOutputBufferUnderLimit(t *testing.T) {
	b, err := NewOutputBuffer(64)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.W.WriteString("hello\n"); err != nil {
		t.Fatal(err)
	}
	b.W.Close()
	<-b.Done()

	if got := string(b.Bytes()); got != "hello\n" {
		t.Errorf("Bytes = %q, want %q", got, "hello\n")
	}
	if b.Truncated() {
		t.Error("Truncated = true for output under the limit")
	}
}

func TestOutputBufferOverLimit(t *testing.T) {
	const max = 10
	b, err := NewOutputBuffer(max)
	if err != nil {
		t.Fatal(err)
	}

	input := strings.Repeat("x", 3*max)
	if _, err := b.W.WriteString(input); err != nil {
		t.Fatal(err)
	}
	b.W.Close()
	<-b.Done()

	if got := b.Bytes(); len(got) != max {
		t.Errorf("len(Bytes) = %d, want %d", len(got), max)
	}
	if !b.Truncated() {
		t.Error("Truncated = false for output over the limit")
	}
}

// The collector must keep draining after the limit so the writer side never
// blocks.
func TestOutputBufferDrainsAfterLimit(t *testing.T) {
	const max = 4
	b, err := NewOutputBuffer(max)
	if err != nil {
		t.Fatal(err)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		// Well past any pipe buffer size.
		chunk := strings.Repeat("y", 64<<10)
		for i := 0; i < 20; i++ {
			if _, err := b.W.WriteString(chunk); err != nil {
				return
			}
		}
		b.W.Close()
	}()

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("writer blocked after output limit was reached")
	}
	<-b.Done()
}

func TestOutputBufferEmpty(t *testing.T) {
	b, err := NewOutputBuffer(16)
	if err != nil {
		t.Fatal(err)
	}
	b.W.Close()
	<-b.Done()

	if len(b.Bytes()) != 0 {
		t.Errorf("Bytes = %q, want empty", b.Bytes())
	}
}
