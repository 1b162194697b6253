// Package results aggregates the comms capture of one test execution into
// per-subtest results.
package results

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ideak/igt-runner/comms"
)

// ResultIncomplete marks a subtest that was started but never reported a
// result, typically because the test crashed or was killed mid-subtest.
const ResultIncomplete = "incomplete"

// Subtest is the aggregated outcome of one subtest or dynamic subtest.
type Subtest struct {
	Name     string
	Result   string
	TimeUsed string
	Reason   string

	// Dynamic holds the dynamic subtests run within this subtest.
	Dynamic []*Subtest
}

// Run is the aggregated view of one capture file.
type Run struct {
	// Cmdline is the command line from the Exec frame the runner wrote.
	Cmdline string
	// Version is the test's version string, when it reported one.
	Version string

	ExitCode int
	// TimeUsed is the process runtime in seconds, as reported in the
	// Exit frame.
	TimeUsed string

	// Stdout and Stderr are the concatenated Log frames per stream.
	Stdout []byte
	Stderr []byte

	Subtests []*Subtest

	// Override is a result override seen outside any started subtest.
	Override string
}

var logger logrus.FieldLogger = logrus.StandardLogger()

type collector struct {
	run *Run

	current     *Subtest // innermost enclosing subtest, nil between subtests
	currentDyn  *Subtest
	lastStarted *Subtest // target for a result override
}

func (c *collector) visitor() *comms.Visitor {
	return &comms.Visitor{
		Log:                  c.handleLog,
		Exec:                 c.handleExec,
		Exit:                 c.handleExit,
		SubtestStart:         c.handleSubtestStart,
		SubtestResult:        c.handleSubtestResult,
		DynamicSubtestStart:  c.handleDynamicStart,
		DynamicSubtestResult: c.handleDynamicResult,
		VersionString:        c.handleVersion,
		ResultOverride:       c.handleOverride,
	}
}

func (c *collector) handleLog(_ comms.Packet, v comms.View, _ interface{}) bool {
	if v.Stream == comms.StreamStdout {
		c.run.Stdout = append(c.run.Stdout, v.Text...)
	} else {
		c.run.Stderr = append(c.run.Stderr, v.Text...)
	}
	return true
}

func (c *collector) handleExec(_ comms.Packet, v comms.View, _ interface{}) bool {
	// A second Exec frame means a resumed execution; the latest command
	// line wins.
	c.run.Cmdline = string(v.Cmdline)
	return true
}

func (c *collector) handleExit(_ comms.Packet, v comms.View, _ interface{}) bool {
	c.run.ExitCode = int(v.ExitCode)
	c.run.TimeUsed = string(v.TimeUsed)
	return true
}

func (c *collector) handleVersion(_ comms.Packet, v comms.View, _ interface{}) bool {
	c.run.Version = string(v.Text)
	return true
}

func (c *collector) handleSubtestStart(_ comms.Packet, v comms.View, _ interface{}) bool {
	sub := &Subtest{Name: string(v.Name), Result: ResultIncomplete}
	c.run.Subtests = append(c.run.Subtests, sub)
	c.current = sub
	c.currentDyn = nil
	c.lastStarted = sub
	return true
}

func (c *collector) handleSubtestResult(_ comms.Packet, v comms.View, _ interface{}) bool {
	name := string(v.Name)
	sub := c.current
	if sub == nil || sub.Name != name {
		// A result can arrive without a start.
		sub = &Subtest{Name: name}
		c.run.Subtests = append(c.run.Subtests, sub)
		c.lastStarted = sub
	}
	sub.Result = string(v.Result)
	sub.TimeUsed = string(v.TimeUsed)
	sub.Reason = string(v.Reason)
	c.current = nil
	c.currentDyn = nil
	return true
}

func (c *collector) handleDynamicStart(_ comms.Packet, v comms.View, _ interface{}) bool {
	dyn := &Subtest{Name: string(v.Name), Result: ResultIncomplete}
	if c.current != nil {
		c.current.Dynamic = append(c.current.Dynamic, dyn)
	} else {
		logger.Warnf("results: dynamic subtest %q outside any subtest", dyn.Name)
		c.run.Subtests = append(c.run.Subtests, dyn)
	}
	c.currentDyn = dyn
	c.lastStarted = dyn
	return true
}

func (c *collector) handleDynamicResult(_ comms.Packet, v comms.View, _ interface{}) bool {
	name := string(v.Name)
	dyn := c.currentDyn
	if dyn == nil || dyn.Name != name {
		dyn = &Subtest{Name: name}
		if c.current != nil {
			c.current.Dynamic = append(c.current.Dynamic, dyn)
		} else {
			c.run.Subtests = append(c.run.Subtests, dyn)
		}
		c.lastStarted = dyn
	}
	dyn.Result = string(v.Result)
	dyn.TimeUsed = string(v.TimeUsed)
	dyn.Reason = string(v.Reason)
	c.currentDyn = nil
	return true
}

func (c *collector) handleOverride(_ comms.Packet, v comms.View, _ interface{}) bool {
	// Overrides the most recently started test entry; used for timeouts
	// and aborts.
	if c.lastStarted != nil {
		c.lastStarted.Result = string(v.Result)
	} else {
		c.run.Override = string(v.Result)
	}
	return true
}

// FromDump replays a capture through the aggregator. The scan result is
// returned alongside: ResultEmpty means the test never used the protocol
// and the Run holds at most the command line.
func FromDump(f *os.File) (*Run, comms.Result) {
	c := &collector{run: &Run{}}
	res := comms.ReadDump(f, c.visitor())
	return c.run, res
}

// FromFile opens path and aggregates it like FromDump.
func FromFile(path string) (*Run, comms.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, comms.ResultError, fmt.Errorf("results: %w", err)
	}
	defer f.Close()

	run, res := FromDump(f)
	return run, res, nil
}
