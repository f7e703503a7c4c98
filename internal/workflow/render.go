package workflow

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/scanbatch/internal/gpstime"
)

// RenderDAG renders the DAGMan workflow descriptor. Each node references the
// shared submit description and binds its timestamp through GPSMacro.
func (w *Workflow) RenderDAG() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s: %d independent job(s)\n", w.Tag, len(w.Nodes))
	for _, n := range w.Nodes {
		fmt.Fprintf(&buf, "JOB %s %s\n", n.Name, w.SubmitPath())
		fmt.Fprintf(&buf, "VARS %s %s=\"%s\"\n", n.Name, GPSMacro, gpstime.Format(n.GPS))
	}
	return norm.NFC.Bytes(buf.Bytes())
}

// RenderSubmit renders the submit description shared by every node.
func (w *Workflow) RenderSubmit() []byte {
	args := append([]string{"$(" + GPSMacro + ")"}, w.Flags.Args()...)
	logStem := filepath.Join(w.LogDir(), w.Tag+"-$(cluster)-$(process)")

	lines := []string{
		"universe = " + w.Universe,
		"executable = " + w.Executable,
		"arguments = " + QuoteArguments(args),
		"getenv = True",
	}
	if nproc, ok := w.Flags.Lookup(FlagNProc); ok {
		lines = append(lines, "request_cpus = "+nproc)
	}
	lines = append(lines,
		"log = "+w.LogPath(),
		"output = "+logStem+".out",
		"error = "+logStem+".err",
		"notification = never",
	)
	lines = append(lines, w.Directives.Lines()...)
	lines = append(lines, "queue 1")

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return norm.NFC.Bytes(buf.Bytes())
}

// QuoteArguments renders an argument vector in HTCondor's new-style
// arguments syntax: the whole list in double quotes, arguments containing
// whitespace or single quotes wrapped in single quotes, and embedded quote
// characters doubled.
func QuoteArguments(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, `"`, `""`)
		if a == "" || strings.ContainsAny(a, " \t'") {
			a = "'" + strings.ReplaceAll(a, "'", "''") + "'"
		}
		quoted[i] = a
	}
	return `"` + strings.Join(quoted, " ") + `"`
}
