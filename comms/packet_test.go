package comms

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPacketRoundTrip(t *testing.T) {
	p := NewLogPacket(StreamStdout, "hello from the test\n")

	require.Equal(t, KindLog, p.Kind())
	require.Equal(t, uint32(len(p)), p.TotalSize())
	assert.Equal(t, int32(os.Getpid()), p.SenderPID())
	assert.NotZero(t, p.SenderTID())

	v := ReadPacket(p)
	require.Equal(t, KindLog, v.Kind)
	assert.Equal(t, StreamStdout, v.Stream)
	assert.Equal(t, "hello from the test\n", string(v.Text))
}

func TestExecPacketRoundTrip(t *testing.T) {
	p := NewExecPacket([]string{"./gem_exec_basic", "--run-subtest", "basic"})

	v := ReadPacket(p)
	require.Equal(t, KindExec, v.Kind)
	assert.Equal(t, "./gem_exec_basic --run-subtest basic", string(v.Cmdline))
}

func TestExitPacketRoundTrip(t *testing.T) {
	p := NewExitPacket(-77, "1.503")

	v := ReadPacket(p)
	require.Equal(t, KindExit, v.Kind)
	assert.Equal(t, int32(-77), v.ExitCode)
	assert.Equal(t, "1.503", string(v.TimeUsed))
}

func TestSubtestStartRoundTrip(t *testing.T) {
	v := ReadPacket(NewSubtestStartPacket("basic-test"))
	require.Equal(t, KindSubtestStart, v.Kind)
	assert.Equal(t, "basic-test", string(v.Name))

	v = ReadPacket(NewDynamicSubtestStartPacket("dyn-1"))
	require.Equal(t, KindDynamicSubtestStart, v.Kind)
	assert.Equal(t, "dyn-1", string(v.Name))
}

func TestSubtestResultRoundTrip(t *testing.T) {
	// A null reason is encoded as an empty string and must read back as
	// such, not as a parse failure.
	p := NewSubtestResultPacket("basic-test", "PASS", "0.42s", "")

	v := ReadPacket(p)
	require.Equal(t, KindSubtestResult, v.Kind)
	assert.Equal(t, "basic-test", string(v.Name))
	assert.Equal(t, "PASS", string(v.Result))
	assert.Equal(t, "0.42s", string(v.TimeUsed))
	assert.Equal(t, "", string(v.Reason))
}

func TestSubtestResultWithReason(t *testing.T) {
	p := NewDynamicSubtestResultPacket("dyn-1", "FAIL", "2.0", "assertion failed")

	v := ReadPacket(p)
	require.Equal(t, KindDynamicSubtestResult, v.Kind)
	assert.Equal(t, "dyn-1", string(v.Name))
	assert.Equal(t, "FAIL", string(v.Result))
	assert.Equal(t, "2.0", string(v.TimeUsed))
	assert.Equal(t, "assertion failed", string(v.Reason))
}

func TestVersionStringRoundTrip(t *testing.T) {
	v := ReadPacket(NewVersionStringPacket("IGT-Version: 1.28"))
	require.Equal(t, KindVersionString, v.Kind)
	assert.Equal(t, "IGT-Version: 1.28", string(v.Text))
}

func TestResultOverrideRoundTrip(t *testing.T) {
	v := ReadPacket(NewResultOverridePacket("timeout"))
	require.Equal(t, KindResultOverride, v.Kind)
	assert.Equal(t, "timeout", string(v.Result))
}

func TestEmptyStringFieldsRoundTrip(t *testing.T) {
	v := ReadPacket(NewSubtestResultPacket("", "", "", ""))
	require.Equal(t, KindSubtestResult, v.Kind)
	assert.Empty(t, v.Name)
	assert.Empty(t, v.Result)
	assert.Empty(t, v.TimeUsed)
	assert.Empty(t, v.Reason)

	v = ReadPacket(NewLogPacket(StreamStderr, ""))
	require.Equal(t, KindLog, v.Kind)
	assert.Equal(t, StreamStderr, v.Stream)
	assert.Empty(t, v.Text)
}

func allVariantPackets() map[string]Packet {
	return map[string]Packet{
		"log":                    NewLogPacket(StreamStderr, "some log text"),
		"exec":                   NewExecPacket([]string{"binary", "arg"}),
		"exit":                   NewExitPacket(1, "0.001"),
		"subtest-start":          NewSubtestStartPacket("subtest"),
		"subtest-result":         NewSubtestResultPacket("subtest", "SKIP", "0.000", "not applicable"),
		"dynamic-subtest-start":  NewDynamicSubtestStartPacket("dyn"),
		"dynamic-subtest-result": NewDynamicSubtestResultPacket("dyn", "PASS", "0.1", ""),
		"versionstring":          NewVersionStringPacket("v1"),
		"result-override":        NewResultOverridePacket("abort"),
	}
}

// Every prefix of every variant must parse as Invalid, never out of bounds
// and never as a partially filled view under the original tag.
func TestTruncationSafety(t *testing.T) {
	for name, p := range allVariantPackets() {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, int(p.TotalSize()), len(p))
			for k := 0; k < len(p); k++ {
				v := ReadPacket(p[:k])
				assert.Equalf(t, KindInvalid, v.Kind, "prefix of %d bytes", k)
			}
			// The untruncated packet still parses.
			assert.NotEqual(t, KindInvalid, ReadPacket(p).Kind)
		})
	}
}

func TestReadPacketUnknownKind(t *testing.T) {
	p := newPacket(Kind(42), 1)
	assert.Equal(t, KindInvalid, ReadPacket(p).Kind)

	p = newPacket(KindInvalid, 0)
	assert.Equal(t, KindInvalid, ReadPacket(p).Kind)
}

func TestReadPacketBadTotalSize(t *testing.T) {
	p := NewSubtestStartPacket("name")
	wire.PutUint32(p[4:8], HeaderSize-1)
	assert.Equal(t, KindInvalid, ReadPacket(p).Kind)
}

// Field views alias the packet storage, no copies are made.
func TestViewBorrowsPacketStorage(t *testing.T) {
	p := NewSubtestStartPacket("aliased")
	v := ReadPacket(p)
	require.Equal(t, "aliased", string(v.Name))

	p.Payload()[0] = 'X'
	assert.Equal(t, "Xliased", string(v.Name))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "LOG", KindLog.String())
	assert.Equal(t, "INVALID", KindInvalid.String())
	assert.Equal(t, "RESULT_OVERRIDE", KindResultOverride.String())
	assert.Equal(t, "UNKNOWN", Kind(1000).String())
}
