package comms

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Sink holds the socket descriptor used to deliver packets to the runner.
// It only observes the descriptor, it never closes it; the caller owns the
// descriptor's lifecycle. The zero value is a disconnected Sink.
//
// A single process-wide Sink backs the package-level SetRunnerSocket,
// RunnerConnected, SendToRunner and LogToRunnerSigSafe helpers; separate
// Sinks can be constructed where per-context state is wanted.
type Sink struct {
	// fd+1 of the accepted socket, 0 while unset. Only ever transitions
	// from 0 to a nonzero value, once.
	fd atomic.Int64
}

// SetSocket accepts fd as the runner socket if it refers to a socket. The
// first accepted descriptor wins; later calls only re-validate and are
// otherwise ignored, as are invalid descriptors. No error is surfaced in
// either case since this is a best-effort diagnostics channel.
func (s *Sink) SetSocket(fd int) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return
	}
	// Only sanity-check that it is a socket, not that it is a
	// message-atomic one.
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return
	}
	s.fd.CompareAndSwap(0, int64(fd)+1)
}

// Connected reports whether SetSocket has ever accepted a descriptor. Once
// true it stays true for the life of the process, even if the descriptor
// later goes bad at the OS level; that only surfaces as swallowed write
// errors. Callers use this to decide whether log output goes to the socket
// or to stdout/stderr, and that decision must not flip midway.
func (s *Sink) Connected() bool {
	return s.fd.Load() != 0
}

// Send delivers the packet to the runner as a single write of TotalSize
// bytes, then releases it. Ownership transfers into Send on every path:
// the packet must not be reused afterward, sent or not, successful or not.
// Write errors are deliberately dropped; losing a diagnostic packet must
// never escalate into a failure of the test under observation.
func (s *Sink) Send(p Packet) {
	fd := s.fd.Load()
	if fd == 0 {
		return
	}
	unix.Write(int(fd-1), p)
}

var runnerSink Sink

// SetRunnerSocket globally sets the descriptor used to talk to the runner.
// See Sink.SetSocket.
func SetRunnerSocket(fd int) {
	runnerSink.SetSocket(fd)
}

// RunnerConnected reports whether a runner socket has been accepted.
// See Sink.Connected.
func RunnerConnected() bool {
	return runnerSink.Connected()
}

// SendToRunner sends the packet on the process-wide runner socket and
// releases it. See Sink.Send.
func SendToRunner(p Packet) {
	runnerSink.Send(p)
}
