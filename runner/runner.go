// Package runner executes one test binary under supervision. It hands the
// test the child end of a comms socketpair, records every packet the test
// sends into an on-disk capture file and collects the raw stdout/stderr
// streams, bounded, alongside.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ideak/igt-runner/comms"
	"github.com/ideak/igt-runner/pkg/pipe"
	"github.com/ideak/igt-runner/pkg/unixsocket"
)

// SocketFdEnv names the environment variable through which the test process
// learns the fd number of its end of the comms socket.
const SocketFdEnv = "IGT_RUNNER_SOCKET_FD"

// CaptureSuffix is appended to the test binary's base name to form the
// capture file name.
const CaptureSuffix = ".comms"

const (
	// childSocketFd is where ExtraFiles places the comms socket in the
	// child: first slot after stdin/stdout/stderr.
	childSocketFd = 3

	defaultOutputLimit = 4 << 20

	// maxPacketSize bounds one received comms message. Larger messages
	// are truncated by the transport and dropped as malformed.
	maxPacketSize = 64 << 10
)

// Runner supervises a single test binary execution.
type Runner struct {
	// TestBinary is the path of the test executable.
	TestBinary string
	// Args are the arguments passed to the test, binary name excluded.
	Args []string
	// Env entries are appended to the runner's own environment.
	Env []string
	// Dir is the working directory for the test, empty for inherited.
	Dir string

	// OutputDir is where the capture file is written, empty for the
	// current directory.
	OutputDir string
	// Timeout kills the test when exceeded, 0 for no limit.
	Timeout time.Duration
	// OutputLimit bounds the captured bytes of each output stream.
	OutputLimit int64

	Logger logrus.FieldLogger
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

// CapturePath returns the capture file path this Runner writes to.
func (r *Runner) CapturePath() string {
	dir := r.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.Base(r.TestBinary)+CaptureSuffix)
}

// Run executes the test and waits for it to finish. The returned error is
// non-nil only for runner-side setup failures; a failing, crashing or
// timed-out test is reported through the Result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.TestBinary == "" {
		return nil, errors.New("runner: no test binary given")
	}
	limit := r.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	capturePath := r.CapturePath()
	capture, err := os.Create(capturePath)
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create capture file: %w", err)
	}
	defer capture.Close()
	dw := comms.NewDumpWriter(capture)

	// The Exec frame is always the first one in a capture; it is written
	// by the runner, not the test.
	argv := append([]string{r.TestBinary}, r.Args...)
	if err := dw.WritePacket(comms.NewExecPacket(argv)); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	sock, childEnd, err := unixsocket.NewSocketPair()
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	defer sock.Close()

	outBuf, err := pipe.NewOutputBuffer(limit)
	if err != nil {
		childEnd.Close()
		return nil, fmt.Errorf("runner: %w", err)
	}
	errBuf, err := pipe.NewOutputBuffer(limit)
	if err != nil {
		childEnd.Close()
		outBuf.W.Close()
		return nil, fmt.Errorf("runner: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.TestBinary, r.Args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", SocketFdEnv, childSocketFd))
	cmd.Stdout = outBuf.W
	cmd.Stderr = errBuf.W
	cmd.ExtraFiles = []*os.File{childEnd}
	// Give a test that ignores the context kill no chance to wedge Wait
	// through inherited pipes.
	cmd.WaitDelay = 10 * time.Second

	r.logger().WithFields(logrus.Fields{
		"binary":  r.TestBinary,
		"capture": capturePath,
	}).Debug("runner: starting test")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		childEnd.Close()
		outBuf.W.Close()
		errBuf.W.Close()
		return nil, fmt.Errorf("runner: failed to start %s: %w", r.TestBinary, err)
	}
	// Drop the parent's copies of the child-side descriptors so EOFs
	// propagate once the test exits.
	childEnd.Close()
	outBuf.W.Close()
	errBuf.W.Close()

	received := make(chan int, 1)
	go func() {
		received <- r.receive(sock, dw)
	}()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	var packets int
	select {
	case packets = <-received:
	case <-time.After(cmd.WaitDelay):
		// Some orphaned process still holds the test's socket end.
		sock.SetReadDeadline(time.Now())
		packets = <-received
	}
	<-outBuf.Done()
	<-errBuf.Done()

	res := &Result{
		RunTime:         elapsed,
		CapturePath:     capturePath,
		PacketCount:     packets,
		Stdout:          outBuf.Bytes(),
		Stderr:          errBuf.Bytes(),
		StdoutTruncated: outBuf.Truncated(),
		StderrTruncated: errBuf.Truncated(),
	}
	r.classify(ctx, res, waitErr)

	// Record the ending in the capture, but only for tests that actually
	// used the protocol: an Exec-only capture is how consumers detect
	// that the test did not.
	if packets > 0 {
		if res.Status == StatusTimeLimitExceeded {
			if err := dw.WritePacket(comms.NewResultOverridePacket("timeout")); err != nil {
				r.logger().WithError(err).Warn("runner: failed to record timeout override")
			}
		}
		timeUsed := fmt.Sprintf("%.3f", elapsed.Seconds())
		if err := dw.WritePacket(comms.NewExitPacket(int32(res.ExitCode), timeUsed)); err != nil {
			r.logger().WithError(err).Warn("runner: failed to record exit packet")
		}
	}

	r.logger().WithFields(logrus.Fields{
		"status":  res.Status,
		"exit":    res.ExitCode,
		"runtime": res.RunTime,
		"packets": packets,
	}).Debug("runner: test finished")

	return res, nil
}

// receive appends every packet arriving on the comms socket to the capture,
// one seqpacket message per packet, until the test's end of the socket is
// gone. Returns the number of packets recorded.
func (r *Runner) receive(sock *unixsocket.Socket, dw *comms.DumpWriter) int {
	buf := make([]byte, maxPacketSize)
	count := 0
	for {
		n, err := sock.RecvMsg(buf)
		if err != nil {
			return count
		}
		p := comms.Packet(buf[:n])
		if n < comms.HeaderSize || int(p.TotalSize()) != n {
			r.logger().Warnf("runner: dropping malformed %d byte packet", n)
			continue
		}
		if err := dw.WritePacket(p); err != nil {
			r.logger().WithError(err).Error("runner: failed to write capture")
			return count
		}
		count++
	}
}

func (r *Runner) classify(ctx context.Context, res *Result, waitErr error) {
	if ctx.Err() == context.DeadlineExceeded {
		res.Status = StatusTimeLimitExceeded
		return
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.Status = StatusNormal
	case errors.As(waitErr, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Status = StatusSignalled
			res.ExitCode = int(ws.Signal())
			return
		}
		res.Status = StatusNonzeroExitStatus
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Status = StatusRunnerError
		res.Error = waitErr.Error()
	}
}
