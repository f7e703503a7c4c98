// Package condor hands generated workflows to HTCondor.
//
// The scheduler is driven only through its command-line tools, run as
// opaque child processes. Their exit status is propagated verbatim in a
// CommandError; nothing here interprets scheduler output.
package condor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Scheduler submits a DAG and watches its progress.
type Scheduler interface {
	Submit(ctx context.Context, dagPath string) error
	Monitor(ctx context.Context, logPath string) error
}

// Default command names of the HTCondor tools.
const (
	DefaultSubmitCommand = "condor_submit_dag"
	DefaultWatchCommand  = "condor_watch_q"
)

// CommandError reports a scheduler tool that failed. ExitCode is -1 when
// the process could not be started or was killed by a signal.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Command, strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (stderr: " + s + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CLI drives HTCondor through condor_submit_dag and condor_watch_q.
type CLI struct {
	SubmitCommand string
	WatchCommand  string

	// Stdout and Stderr receive the tools' output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// InterruptGrace is how long a watcher gets to exit after an interrupt
	// before it is killed.
	InterruptGrace time.Duration
}

// NewCLI returns a CLI using the default tool names.
func NewCLI(stdout, stderr io.Writer) *CLI {
	return &CLI{
		SubmitCommand:  DefaultSubmitCommand,
		WatchCommand:   DefaultWatchCommand,
		Stdout:         stdout,
		Stderr:         stderr,
		InterruptGrace: 5 * time.Second,
	}
}

// Submit runs `condor_submit_dag -force <dag>`. -force lets a regenerated
// DAG replace the DAGMan files left by an earlier run with the same tag.
func (c *CLI) Submit(ctx context.Context, dagPath string) error {
	cmd := exec.CommandContext(ctx, c.SubmitCommand, "-force", dagPath)
	return c.run(cmd)
}

// Monitor runs `condor_watch_q` on the job log until every job is done.
// Cancelling ctx interrupts the watcher and is not an error: the
// workflow keeps running in the scheduler.
func (c *CLI) Monitor(ctx context.Context, logPath string) error {
	cmd := exec.CommandContext(ctx, c.WatchCommand, "-files", logPath, "-exit", "all,done,0")
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.InterruptGrace

	err := c.run(cmd)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *CLI) run(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stdout = c.Stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(c.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		cerr := &CommandError{
			Command:  cmd.Args[0],
			Args:     cmd.Args[1:],
			ExitCode: -1,
			Stderr:   stderr.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return cerr
	}
	return nil
}
