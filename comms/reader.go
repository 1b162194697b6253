package comms

import "bytes"

// View is a parsed, typed view of one packet. Its byte slice fields alias
// the packet's storage directly, so a View is only valid as long as the
// packet it was read from. Only the fields listed for the View's Kind are
// populated; everything else is left zero.
type View struct {
	Kind Kind

	Stream   uint8 // Log: StreamStdout or StreamStderr
	ExitCode int32 // Exit

	Text     []byte // Log, VersionString
	Cmdline  []byte // Exec
	Name     []byte // SubtestStart, SubtestResult, DynamicSubtestStart, DynamicSubtestResult
	Result   []byte // SubtestResult, DynamicSubtestResult, ResultOverride
	TimeUsed []byte // Exit, SubtestResult, DynamicSubtestResult
	Reason   []byte // SubtestResult, DynamicSubtestResult; zero-length when the writer had none
}

// cursor walks a packet payload field by field. Once any extraction fails
// the cursor stays failed and every further read fails too.
type cursor struct {
	buf []byte
	ok  bool
}

func (c *cursor) uint8() uint8 {
	if !c.ok || len(c.buf) < 1 {
		c.fail()
		return 0
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	return v
}

func (c *cursor) int32() int32 {
	if !c.ok || len(c.buf) < 4 {
		c.fail()
		return 0
	}
	v := int32(wire.Uint32(c.buf))
	c.buf = c.buf[4:]
	return v
}

// cstring scans for a NUL terminator and returns the bytes before it,
// aliasing the underlying storage. A missing terminator fails the cursor.
func (c *cursor) cstring() []byte {
	if !c.ok {
		return nil
	}
	end := bytes.IndexByte(c.buf, 0)
	if end < 0 {
		c.fail()
		return nil
	}
	s := c.buf[:end:end]
	c.buf = c.buf[end+1:]
	return s
}

func (c *cursor) fail() {
	c.buf = nil
	c.ok = false
}

// ReadPacket validates p and extracts the fields of its variant. On any
// structural problem, a truncated field, a missing NUL terminator or an
// unknown kind, the returned View's Kind is KindInvalid and no fields are
// populated; a malformed packet never propagates under its original tag.
//
// ReadPacket performs no allocation and never mutates p. String fields of
// the View point into p, which must outlive the View.
func ReadPacket(p Packet) View {
	invalid := View{Kind: KindInvalid}

	if len(p) < HeaderSize {
		return invalid
	}
	size := int(p.TotalSize())
	if size < HeaderSize {
		return invalid
	}
	// The declared size is authoritative for the payload extent, but never
	// look past the bytes actually present.
	if size > len(p) {
		size = len(p)
	}

	v := View{Kind: p.Kind()}
	c := cursor{buf: p[HeaderSize:size], ok: true}

	switch v.Kind {
	case KindLog:
		v.Stream = c.uint8()
		v.Text = c.cstring()
	case KindExec:
		v.Cmdline = c.cstring()
	case KindExit:
		v.ExitCode = c.int32()
		v.TimeUsed = c.cstring()
	case KindSubtestStart, KindDynamicSubtestStart:
		v.Name = c.cstring()
	case KindSubtestResult, KindDynamicSubtestResult:
		v.Name = c.cstring()
		v.Result = c.cstring()
		v.TimeUsed = c.cstring()
		v.Reason = c.cstring()
	case KindVersionString:
		v.Text = c.cstring()
	case KindResultOverride:
		v.Result = c.cstring()
	default:
		return invalid
	}

	if !c.ok {
		return invalid
	}
	return v
}
