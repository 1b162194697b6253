package comms

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// CaptureCanary precedes every frame in a capture file, as a desync check.
const CaptureCanary uint32 = 'I'<<24 | 'G'<<16 | 'T'<<8 | '1'

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger redirects this package's scan diagnostics. Passing nil keeps
// the current logger.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// Result is the outcome of a capture scan.
type Result int

const (
	// ResultError: corrupt capture, or a visitor stopped the scan early.
	ResultError Result = iota
	// ResultEmpty: no capture data, or only the runner's own Exec frame.
	// The test itself never spoke the protocol.
	ResultEmpty
	// ResultSuccess: the capture was read to the end and the test used
	// the protocol.
	ResultSuccess
)

func (r Result) String() string {
	switch r {
	case ResultError:
		return "error"
	case ResultEmpty:
		return "empty"
	case ResultSuccess:
		return "success"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Handler is one visitor callback. It receives the raw framed packet, its
// parsed view and the visitor's Userdata. Returning false stops the scan;
// an early stop makes the scan result ResultError, since parsing did not
// reach natural end-of-file.
type Handler func(p Packet, v View, userdata interface{}) bool

// Visitor is a collection of per-kind packet handlers driven by ReadDump.
// Handlers left nil mean the corresponding packets are skipped.
type Visitor struct {
	Log                  Handler
	Exec                 Handler
	Exit                 Handler
	SubtestStart         Handler
	SubtestResult        Handler
	DynamicSubtestStart  Handler
	DynamicSubtestResult Handler
	VersionString        Handler
	ResultOverride       Handler

	Userdata interface{}
}

func (v *Visitor) handler(k Kind) Handler {
	switch k {
	case KindLog:
		return v.Log
	case KindExec:
		return v.Exec
	case KindExit:
		return v.Exit
	case KindSubtestStart:
		return v.SubtestStart
	case KindSubtestResult:
		return v.SubtestResult
	case KindDynamicSubtestStart:
		return v.DynamicSubtestStart
	case KindDynamicSubtestResult:
		return v.DynamicSubtestResult
	case KindVersionString:
		return v.VersionString
	case KindResultOverride:
		return v.ResultOverride
	default:
		return nil
	}
}

// ReadDump replays a capture file through the visitor. The file is mapped
// read-only for the duration of the scan; the mapping is released on every
// exit path, so packet and view arguments are only valid inside their
// handler call.
//
// Any framing corruption (bad canary, truncated header, truncated declared
// payload) aborts the scan with ResultError; resynchronizing mid-stream is
// not possible. A zero-length file is ResultEmpty, as is a capture holding
// nothing but the Exec frame the runner itself emits before the test runs.
func ReadDump(f *os.File, visitor *Visitor) Result {
	fi, err := f.Stat()
	if err != nil {
		logger.WithError(err).Error("comms: cannot stat capture file")
		return ResultError
	}
	if fi.Size() == 0 {
		return ResultEmpty
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		logger.WithError(err).Error("comms: cannot map capture file")
		return ResultError
	}
	defer unix.Munmap(buf)

	return scanDump(buf, visitor)
}

func scanDump(buf []byte, visitor *Visitor) Result {
	ret := ResultEmpty

	for off := 0; off < len(buf); {
		if len(buf)-off < 4 {
			logger.Error("comms: truncated canary at end of capture")
			return ResultError
		}
		if canary := wire.Uint32(buf[off:]); canary != CaptureCanary {
			logger.Errorf("comms: invalid canary %#x at offset %d, expected %#x", canary, off, CaptureCanary)
			return ResultError
		}
		off += 4

		if len(buf)-off < HeaderSize {
			logger.Error("comms: expected packet after canary, truncated capture?")
			return ResultError
		}
		size := int(Packet(buf[off:]).TotalSize())
		if size < HeaderSize || size > len(buf)-off {
			logger.Errorf("comms: packet of size %d at offset %d does not fit, truncated capture?", size, off)
			return ResultError
		}
		pkt := Packet(buf[off : off+size : off+size])
		off += size

		// The runner emits an Exec frame itself before executing the
		// test, so only other kinds prove the test used the protocol.
		if pkt.Kind() != KindExec {
			ret = ResultSuccess
		}

		view := ReadPacket(pkt)
		if view.Kind == KindInvalid {
			logger.Warnf("comms: skipping invalid packet of kind %d", uint32(pkt.Kind()))
			continue
		}
		h := visitor.handler(view.Kind)
		if h == nil {
			continue
		}
		if !h(pkt, view, visitor.Userdata) {
			return ResultError
		}
	}

	return ret
}

// DumpWriter appends framed packets to a capture file. Frames are written
// append-only and never rewritten; the file grows for the life of the
// producing process and is replayed afterward with ReadDump.
type DumpWriter struct {
	w io.Writer
}

// NewDumpWriter returns a DumpWriter framing packets onto w.
func NewDumpWriter(w io.Writer) *DumpWriter {
	return &DumpWriter{w: w}
}

// WritePacket appends one canary-prefixed frame.
func (d *DumpWriter) WritePacket(p Packet) error {
	var canary [4]byte
	wire.PutUint32(canary[:], CaptureCanary)
	if _, err := d.w.Write(canary[:]); err != nil {
		return fmt.Errorf("WritePacket: failed to write canary: %w", err)
	}
	if _, err := d.w.Write(p); err != nil {
		return fmt.Errorf("WritePacket: failed to write packet: %w", err)
	}
	return nil
}
