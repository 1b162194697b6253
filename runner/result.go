package runner

import (
	"fmt"
	"time"
)

// Status classifies how the supervised test process finished.
type Status int

const (
	// StatusNormal: exited 0.
	StatusNormal Status = iota
	// StatusNonzeroExitStatus: exited with a nonzero code.
	StatusNonzeroExitStatus
	// StatusSignalled: killed by a signal.
	StatusSignalled
	// StatusTimeLimitExceeded: killed by the runner on timeout.
	StatusTimeLimitExceeded
	// StatusRunnerError: the runner itself failed.
	StatusRunnerError
)

var statusNames = [...]string{
	StatusNormal:            "normal",
	StatusNonzeroExitStatus: "nonzero-exit",
	StatusSignalled:         "signalled",
	StatusTimeLimitExceeded: "timeout",
	StatusRunnerError:       "runner-error",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result describes one supervised test execution.
type Result struct {
	Status Status
	// ExitCode is the exit code for StatusNonzeroExitStatus/StatusNormal
	// and the signal number for StatusSignalled.
	ExitCode int
	// Error carries detail for StatusRunnerError.
	Error string

	RunTime time.Duration

	// CapturePath is the comms capture file written for this run.
	CapturePath string
	// PacketCount is the number of packets received from the test over
	// the comms socket. Zero means the test never spoke the protocol.
	PacketCount int

	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
}

func (r Result) String() string {
	switch r.Status {
	case StatusRunnerError:
		return fmt.Sprintf("Result[%v(%s)][%v]", r.Status, r.Error, r.RunTime)
	case StatusSignalled:
		return fmt.Sprintf("Result[%v(%d)][%v]", r.Status, r.ExitCode, r.RunTime)
	default:
		return fmt.Sprintf("Result[%v %d][%v]", r.Status, r.ExitCode, r.RunTime)
	}
}
