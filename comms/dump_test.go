package comms

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, packets ...Packet) *os.File {
	t.Helper()

	var buf bytes.Buffer
	dw := NewDumpWriter(&buf)
	for _, p := range packets {
		require.NoError(t, dw.WritePacket(p))
	}
	return writeCaptureBytes(t, buf.Bytes())
}

func writeCaptureBytes(t *testing.T, b []byte) *os.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "comms")
	require.NoError(t, os.WriteFile(path, b, 0644))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestReadDumpEmptyFile(t *testing.T) {
	f := writeCaptureBytes(t, nil)
	assert.Equal(t, ResultEmpty, ReadDump(f, &Visitor{}))
}

// The runner writes the Exec frame itself, so a capture holding only that
// does not mean the test spoke the protocol.
func TestReadDumpExecOnlyIsEmpty(t *testing.T) {
	f := writeCapture(t, NewExecPacket([]string{"binary"}))
	assert.Equal(t, ResultEmpty, ReadDump(f, &Visitor{}))
}

func TestReadDumpExecThenLogIsSuccess(t *testing.T) {
	f := writeCapture(t,
		NewExecPacket([]string{"binary"}),
		NewLogPacket(StreamStdout, "output\n"))

	var logs []string
	v := &Visitor{
		Log: func(p Packet, view View, _ interface{}) bool {
			logs = append(logs, string(view.Text))
			return true
		},
	}
	assert.Equal(t, ResultSuccess, ReadDump(f, v))
	assert.Equal(t, []string{"output\n"}, logs)
}

func TestReadDumpBadCanary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewDumpWriter(&buf).WritePacket(NewLogPacket(StreamStdout, "x")))

	b := buf.Bytes()
	b[0] ^= 0xff
	f := writeCaptureBytes(t, b)

	assert.Equal(t, ResultError, ReadDump(f, &Visitor{}))
}

func TestReadDumpTruncatedCanary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewDumpWriter(&buf).WritePacket(NewLogPacket(StreamStdout, "x")))

	b := buf.Bytes()
	f := writeCaptureBytes(t, append(b, 0x31, 0x54)) // two stray bytes
	assert.Equal(t, ResultError, ReadDump(f, &Visitor{}))
}

func TestReadDumpTruncatedPacket(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewDumpWriter(&buf).WritePacket(NewSubtestStartPacket("subtest")))

	b := buf.Bytes()

	// Cut inside the declared payload.
	f := writeCaptureBytes(t, b[:len(b)-3])
	assert.Equal(t, ResultError, ReadDump(f, &Visitor{}))

	// Cut inside the header.
	f = writeCaptureBytes(t, b[:4+HeaderSize-2])
	assert.Equal(t, ResultError, ReadDump(f, &Visitor{}))
}

// A visitor veto is consumer-signaled failure, not a clean end-of-stream.
func TestReadDumpEarlyStop(t *testing.T) {
	f := writeCapture(t,
		NewLogPacket(StreamStdout, "one"),
		NewLogPacket(StreamStdout, "two"),
		NewLogPacket(StreamStdout, "three"))

	var seen []string
	v := &Visitor{
		Log: func(p Packet, view View, _ interface{}) bool {
			seen = append(seen, string(view.Text))
			return string(view.Text) != "two"
		},
	}
	assert.Equal(t, ResultError, ReadDump(f, v))
	assert.Equal(t, []string{"one", "two"}, seen)
}

// Frames of unknown kind are skipped, not fatal.
func TestReadDumpUnknownKindSkipped(t *testing.T) {
	unknown := newPacket(Kind(42), 4)
	f := writeCapture(t,
		unknown,
		NewSubtestStartPacket("after-unknown"))

	var names []string
	v := &Visitor{
		SubtestStart: func(p Packet, view View, _ interface{}) bool {
			names = append(names, string(view.Name))
			return true
		},
	}
	assert.Equal(t, ResultSuccess, ReadDump(f, v))
	assert.Equal(t, []string{"after-unknown"}, names)
}

func TestReadDumpUserdata(t *testing.T) {
	f := writeCapture(t, NewVersionStringPacket("v1"))

	type state struct{ version string }
	st := &state{}
	v := &Visitor{
		VersionString: func(p Packet, view View, userdata interface{}) bool {
			userdata.(*state).version = string(view.Text)
			return true
		},
		Userdata: st,
	}
	require.Equal(t, ResultSuccess, ReadDump(f, v))
	assert.Equal(t, "v1", st.version)
}

func TestReadDumpAllKindsDispatch(t *testing.T) {
	f := writeCapture(t,
		NewExecPacket([]string{"bin"}),
		NewVersionStringPacket("v1"),
		NewSubtestStartPacket("s"),
		NewDynamicSubtestStartPacket("d"),
		NewDynamicSubtestResultPacket("d", "PASS", "0.1", ""),
		NewSubtestResultPacket("s", "PASS", "0.2", ""),
		NewLogPacket(StreamStderr, "err"),
		NewResultOverridePacket("abort"),
		NewExitPacket(0, "0.3"))

	var kinds []Kind
	record := func(p Packet, view View, _ interface{}) bool {
		kinds = append(kinds, view.Kind)
		return true
	}
	v := &Visitor{
		Log:                  record,
		Exec:                 record,
		Exit:                 record,
		SubtestStart:         record,
		SubtestResult:        record,
		DynamicSubtestStart:  record,
		DynamicSubtestResult: record,
		VersionString:        record,
		ResultOverride:       record,
	}
	require.Equal(t, ResultSuccess, ReadDump(f, v))
	assert.Equal(t, []Kind{
		KindExec, KindVersionString, KindSubtestStart,
		KindDynamicSubtestStart, KindDynamicSubtestResult,
		KindSubtestResult, KindLog, KindResultOverride, KindExit,
	}, kinds)
}
