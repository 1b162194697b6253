package comms

import (
	"os"

	"golang.org/x/sys/unix"
)

// sigSafeCapacity is the text capacity of one signal-safe Log frame,
// terminator excluded.
const sigSafeCapacity = 127

// LogSigSafe delivers text to the runner as one or more Log frames using
// only operations that are safe inside a signal handler: a fixed-size stack
// buffer and raw write calls, no heap allocation and no locks. Input longer
// than the chunk capacity is emitted as consecutive frames whose
// concatenated text equals the input.
//
// The stream id is fixed to stderr and the sender tid is left zero, since
// thread id lookup is not guaranteed signal safe. If no socket has been
// accepted the call is a silent no-op; routing the text elsewhere in that
// case is the caller's policy, not this layer's.
func (s *Sink) LogSigSafe(text []byte) {
	fd := s.fd.Load()
	if fd == 0 {
		return
	}

	var buf [HeaderSize + 1 + sigSafeCapacity + 1]byte
	for {
		n := len(text)
		if n > sigSafeCapacity {
			n = sigSafeCapacity
		}
		size := HeaderSize + 1 + n + 1

		wire.PutUint32(buf[0:4], uint32(KindLog))
		wire.PutUint32(buf[4:8], uint32(size))
		wire.PutUint32(buf[8:12], uint32(os.Getpid()))
		wire.PutUint32(buf[12:16], 0)
		buf[HeaderSize] = StreamStderr
		copy(buf[HeaderSize+1:], text[:n])
		buf[HeaderSize+1+n] = 0

		unix.Write(int(fd-1), buf[:size])

		text = text[n:]
		if len(text) == 0 {
			return
		}
	}
}

// LogToRunnerSigSafe emits text on the process-wide runner socket from a
// signal handler context. See Sink.LogSigSafe.
func LogToRunnerSigSafe(text []byte) {
	runnerSink.LogSigSafe(text)
}
