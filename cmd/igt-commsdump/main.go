// igt-commsdump decodes a runner comms capture file and prints one line per
// packet.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ideak/igt-runner/comms"
)

var rootCmd = &cobra.Command{
	Use:          "igt-commsdump <capture-file>",
	Short:        "Decode a runner comms capture file",
	Args:         cobra.ExactArgs(1),
	RunE:         run,
	SilenceUsage: true,
}

func run(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	switch comms.ReadDump(f, decodeVisitor()) {
	case comms.ResultError:
		return fmt.Errorf("failed to parse %s", args[0])
	case comms.ResultEmpty:
		fmt.Println("(no comms data beyond the exec frame)")
	}
	return nil
}

// printPacket emits one decoded line, appending a newline unless the free
// form text already ends with one.
func printPacket(p comms.Packet, format string, args ...interface{}) bool {
	line := fmt.Sprintf(format, args...)
	fmt.Printf("(pid=%d tid=%d) %s", p.SenderPID(), p.SenderTID(), line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		fmt.Println()
	}
	return true
}

func decodeVisitor() *comms.Visitor {
	return &comms.Visitor{
		Log: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "LOG\tstream=%d,text=%s", v.Stream, v.Text)
		},
		Exec: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "EXEC\tcmdline=%s\n", v.Cmdline)
		},
		Exit: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "EXIT\texitcode=%d,timeused=%s\n", v.ExitCode, v.TimeUsed)
		},
		SubtestStart: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "SUBTEST_START\tname=%s\n", v.Name)
		},
		SubtestResult: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "SUBTEST_RESULT\tname=%s,result=%s,timeused=%s,reason=%s\n",
				v.Name, v.Result, v.TimeUsed, v.Reason)
		},
		DynamicSubtestStart: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "DYNAMIC_SUBTEST_START\tname=%s\n", v.Name)
		},
		DynamicSubtestResult: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "DYNAMIC_SUBTEST_RESULT\tname=%s,result=%s,timeused=%s,reason=%s\n",
				v.Name, v.Result, v.TimeUsed, v.Reason)
		},
		VersionString: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "VERSIONSTRING\ttext=%s", v.Text)
		},
		ResultOverride: func(p comms.Packet, v comms.View, _ interface{}) bool {
			return printPacket(p, "RESULT_OVERRIDE\tresult=%s\n", v.Result)
		},
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
