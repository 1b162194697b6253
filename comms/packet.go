// Package comms implements the structured communication protocol used by a
// test process to report progress, log output and results to the supervising
// runner, together with the on-disk capture format and its offline replay.
//
// The protocol is a one-way stream of self-framed binary packets. It assumes
// a transport with atomic whole-message delivery (a SOCK_SEQPACKET or
// datagram socket); on a plain byte stream concurrent senders can shear
// frames, so callers on such transports must serialize sends themselves.
package comms

import (
	"encoding/binary"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind tags a packet variant.
type Kind uint32

const (
	// KindInvalid is never sent on the wire. It is only produced by
	// ReadPacket as a parse failure result.
	KindInvalid Kind = iota
	KindLog
	KindExec
	KindExit
	KindSubtestStart
	KindSubtestResult
	KindDynamicSubtestStart
	KindDynamicSubtestResult
	KindVersionString
	KindResultOverride

	numKinds // must be last
)

var kindNames = [...]string{
	KindInvalid:              "INVALID",
	KindLog:                  "LOG",
	KindExec:                 "EXEC",
	KindExit:                 "EXIT",
	KindSubtestStart:         "SUBTEST_START",
	KindSubtestResult:        "SUBTEST_RESULT",
	KindDynamicSubtestStart:  "DYNAMIC_SUBTEST_START",
	KindDynamicSubtestResult: "DYNAMIC_SUBTEST_RESULT",
	KindVersionString:        "VERSIONSTRING",
	KindResultOverride:       "RESULT_OVERRIDE",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// Log packet stream ids.
const (
	StreamStdout uint8 = 1
	StreamStderr uint8 = 2
)

// HeaderSize is the fixed length of the packet header:
// kind (u32), total size (u32), sender pid (i32), sender tid (i32).
const HeaderSize = 16

// All integer fields are little-endian, matching capture files produced by
// the C implementation on x86.
var wire = binary.LittleEndian

// Packet is one serialized unit of the protocol, a HeaderSize byte header
// followed by a kind-specific payload. The slice owns the full packet
// storage; the header's total size field equals len(p) for packets produced
// by the builders.
type Packet []byte

// Kind returns the variant tag from the header.
func (p Packet) Kind() Kind {
	if len(p) < HeaderSize {
		return KindInvalid
	}
	return Kind(wire.Uint32(p[0:4]))
}

// TotalSize returns the declared total packet length, header included. It is
// authoritative for framing.
func (p Packet) TotalSize() uint32 {
	if len(p) < HeaderSize {
		return 0
	}
	return wire.Uint32(p[4:8])
}

// SenderPID returns the pid of the process that built the packet.
func (p Packet) SenderPID() int32 {
	if len(p) < HeaderSize {
		return 0
	}
	return int32(wire.Uint32(p[8:12]))
}

// SenderTID returns the thread id of the builder, or 0 when it was not
// captured (signal-safe log packets).
func (p Packet) SenderTID() int32 {
	if len(p) < HeaderSize {
		return 0
	}
	return int32(wire.Uint32(p[12:16]))
}

// Payload returns the variant-specific bytes following the header.
func (p Packet) Payload() []byte {
	if len(p) < HeaderSize {
		return nil
	}
	return p[HeaderSize:]
}

func newPacket(kind Kind, payloadSize int) Packet {
	p := make(Packet, HeaderSize+payloadSize)
	wire.PutUint32(p[0:4], uint32(kind))
	wire.PutUint32(p[4:8], uint32(len(p)))
	wire.PutUint32(p[8:12], uint32(os.Getpid()))
	wire.PutUint32(p[12:16], uint32(unix.Gettid()))
	return p
}

// putString writes s NUL-terminated at the start of b and returns the rest
// of b.
func putString(b []byte, s string) []byte {
	n := copy(b, s)
	b[n] = 0
	return b[n+1:]
}

// NewLogPacket builds a Log packet carrying one chunk of test output.
// stream is StreamStdout or StreamStderr.
func NewLogPacket(stream uint8, text string) Packet {
	p := newPacket(KindLog, 1+len(text)+1)
	b := p.Payload()
	b[0] = stream
	putString(b[1:], text)
	return p
}

// NewExecPacket builds an Exec packet recording the command line about to be
// executed. argv is rejoined with single spaces and no escaping, so
// arguments containing spaces are ambiguous on read-back. The format is kept
// as-is for capture file compatibility.
func NewExecPacket(argv []string) Packet {
	cmdline := strings.Join(argv, " ")
	p := newPacket(KindExec, len(cmdline)+1)
	putString(p.Payload(), cmdline)
	return p
}

// NewExitPacket builds an Exit packet. timeUsed is the process runtime in
// seconds, formatted as a floating point value.
func NewExitPacket(exitCode int32, timeUsed string) Packet {
	p := newPacket(KindExit, 4+len(timeUsed)+1)
	b := p.Payload()
	wire.PutUint32(b[0:4], uint32(exitCode))
	putString(b[4:], timeUsed)
	return p
}

// NewSubtestStartPacket builds a SubtestStart packet.
func NewSubtestStartPacket(name string) Packet {
	p := newPacket(KindSubtestStart, len(name)+1)
	putString(p.Payload(), name)
	return p
}

// NewSubtestResultPacket builds a SubtestResult packet. reason may be empty;
// it is always encoded, just possibly zero-length. A SubtestResult can be
// sent without a preceding SubtestStart.
func NewSubtestResultPacket(name, result, timeUsed, reason string) Packet {
	p := newPacket(KindSubtestResult, len(name)+len(result)+len(timeUsed)+len(reason)+4)
	b := p.Payload()
	b = putString(b, name)
	b = putString(b, result)
	b = putString(b, timeUsed)
	putString(b, reason)
	return p
}

// NewDynamicSubtestStartPacket builds a DynamicSubtestStart packet.
func NewDynamicSubtestStartPacket(name string) Packet {
	p := newPacket(KindDynamicSubtestStart, len(name)+1)
	putString(p.Payload(), name)
	return p
}

// NewDynamicSubtestResultPacket builds a DynamicSubtestResult packet. reason
// may be empty.
func NewDynamicSubtestResultPacket(name, result, timeUsed, reason string) Packet {
	p := newPacket(KindDynamicSubtestResult, len(name)+len(result)+len(timeUsed)+len(reason)+4)
	b := p.Payload()
	b = putString(b, name)
	b = putString(b, result)
	b = putString(b, timeUsed)
	putString(b, reason)
	return p
}

// NewVersionStringPacket builds a VersionString packet carrying the version
// of the running test.
func NewVersionStringPacket(text string) Packet {
	p := newPacket(KindVersionString, len(text)+1)
	putString(p.Payload(), text)
	return p
}

// NewResultOverridePacket builds a ResultOverride packet. It overrides the
// result of the most recently started test, subtest or dynamic subtest; used
// for timeouts, aborts and the like. result is all lowercase.
func NewResultOverridePacket(result string) Packet {
	p := newPacket(KindResultOverride, len(result)+1)
	putString(p.Payload(), result)
	return p
}
