// Package unixsocket wraps Linux SOCK_SEQPACKET unix sockets, used as the
// communication channel between the runner and the test process. Seqpacket
// preserves message boundaries, so every packet send is observed atomically
// by the reader; that is what makes the comms wire protocol safe without a
// byte-stream framing layer.
package unixsocket

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Socket wraps one end of a seqpacket connection. Read returns exactly one
// sent message per call.
type Socket struct {
	*net.UnixConn
}

// NewSocket wraps an existing unix socket fd, marking it close-on-exec to
// avoid leaking it into children. The fd must refer to a connected unix
// socket. NewSocket consumes the fd: the returned Socket operates on a
// duplicate and the original is closed before returning.
func NewSocket(fd int) (*Socket, error) {
	unix.CloseOnExec(fd)

	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("NewSocket: %d is not a valid fd", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("NewSocket: %w", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("NewSocket: %d is not a unix socket", fd)
	}
	return &Socket{unixConn}, nil
}

// NewSocketPair creates a connected SOCK_SEQPACKET pair. The parent end is
// wrapped for message-wise reads; the child end is returned as a plain
// *os.File so it can be handed to a spawned process as an inherited
// descriptor.
func NewSocketPair() (*Socket, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call socketpair: %w", err)
	}

	parent, err := NewSocket(fds[0])
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("NewSocketPair: %w", err)
	}

	child := os.NewFile(uintptr(fds[1]), "runner-socket")
	return parent, child, nil
}

// RecvMsg reads one message into b and returns its length. A zero-length
// read on a seqpacket socket means the peer end is gone.
func (s *Socket) RecvMsg(b []byte) (int, error) {
	return s.Read(b)
}

// SendMsg sends b as one message.
func (s *Socket) SendMsg(b []byte) error {
	_, err := s.Write(b)
	return err
}
