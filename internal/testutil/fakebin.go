// Package testutil provides stand-ins for the external scheduler tools.
//
// Fake binaries are small shell scripts written into a test's temp dir.
// Each invocation appends its arguments, one call per line, to a calls file
// so tests can assert exactly how the tool was run.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FakeBinary is an executable script standing in for a scheduler tool.
type FakeBinary struct {
	Path      string
	callsPath string
}

// NewFakeBinary writes a script named name into dir that records its
// arguments, prints stdout and stderr, and exits with exitCode.
func NewFakeBinary(t *testing.T, dir, name string, exitCode int, stdout, stderr string) *FakeBinary {
	t.Helper()
	body := fmt.Sprintf("printf '%%s\\n' %s\nprintf '%%s' %s >&2\nexit %d\n",
		shellQuote(stdout), shellQuote(stderr), exitCode)
	return writeScript(t, dir, name, body)
}

// NewBlockingBinary writes a script that records its arguments, prints
// ready, then runs until it receives SIGINT or SIGTERM.
func NewBlockingBinary(t *testing.T, dir, name string) *FakeBinary {
	t.Helper()
	body := "trap 'exit 130' INT TERM\necho ready\nwhile true; do sleep 0.05; done\n"
	return writeScript(t, dir, name, body)
}

func writeScript(t *testing.T, dir, name, body string) *FakeBinary {
	t.Helper()
	path := filepath.Join(dir, name)
	calls := path + ".calls"
	script := fmt.Sprintf("#!/bin/sh\necho \"$*\" >> %s\n%s", shellQuote(calls), body)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake binary %s: %v", name, err)
	}
	return &FakeBinary{Path: path, callsPath: calls}
}

// Calls returns the argument lists of every invocation so far.
func (b *FakeBinary) Calls(t *testing.T) [][]string {
	t.Helper()
	data, err := os.ReadFile(b.callsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read calls of %s: %v", b.Path, err)
	}

	var calls [][]string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		calls = append(calls, strings.Fields(line))
	}
	return calls
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
