// igt-runner executes one test binary under supervision, records its comms
// stream into a capture file and prints a result summary.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ideak/igt-runner/comms"
	"github.com/ideak/igt-runner/results"
	"github.com/ideak/igt-runner/runner"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "igt-runner [flags] -- <test-binary> [test-args...]",
	Short: "Run a test binary and capture its structured comms output",
	Long: `igt-runner launches a test binary with a comms socket, records every
packet the test reports into a capture file and prints a per-subtest
summary once the test finishes. The capture file can be inspected
afterward with igt-commsdump.`,
	Args:         cobra.MinimumNArgs(1),
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	flags.StringP("output-dir", "o", ".", "directory for the capture file")
	flags.Duration("timeout", 0, "kill the test after this long (0 = no limit)")
	flags.Int64("output-limit", 4<<20, "max captured bytes per output stream")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("output_dir", flags.Lookup("output-dir"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
	viper.BindPFlag("output_limit", flags.Lookup("output-limit"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))

	viper.SetEnvPrefix("IGT_RUNNER")
	viper.AutomaticEnv()
}

func loadConfig() error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	r := &runner.Runner{
		TestBinary:  args[0],
		Args:        args[1:],
		OutputDir:   viper.GetString("output_dir"),
		Timeout:     viper.GetDuration("timeout"),
		OutputLimit: viper.GetInt64("output_limit"),
	}

	res, err := r.Run(cmd.Context())
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"status":  res.Status,
		"exit":    res.ExitCode,
		"runtime": res.RunTime.Round(time.Millisecond),
		"capture": res.CapturePath,
	}).Info("test finished")

	printSummary(res)

	if res.Status != runner.StatusNormal {
		return fmt.Errorf("test finished with status %v", res.Status)
	}
	return nil
}

func printSummary(res *runner.Result) {
	run, scan, err := results.FromFile(res.CapturePath)
	if err != nil {
		logrus.WithError(err).Warn("cannot read back capture")
		return
	}
	switch scan {
	case comms.ResultEmpty:
		fmt.Println("test did not use runner comms; raw output follows")
		os.Stdout.Write(res.Stdout)
		return
	case comms.ResultError:
		logrus.Warn("capture is corrupt, summary may be partial")
	}

	if run.Version != "" {
		fmt.Printf("version: %s\n", run.Version)
	}
	for _, sub := range run.Subtests {
		printSubtest(sub, "")
		for _, dyn := range sub.Dynamic {
			printSubtest(dyn, "  ")
		}
	}
}

func printSubtest(sub *results.Subtest, indent string) {
	line := fmt.Sprintf("%s%s: %s", indent, sub.Name, sub.Result)
	if sub.TimeUsed != "" {
		line += fmt.Sprintf(" (%ss)", sub.TimeUsed)
	}
	if sub.Reason != "" {
		line += fmt.Sprintf(" [%s]", sub.Reason)
	}
	fmt.Println(line)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
