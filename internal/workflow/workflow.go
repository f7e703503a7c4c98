// Package workflow assembles a batch of timestamps into an HTCondor DAGMan
// workflow.
//
// A Workflow holds one JobNode per timestamp, all bound to a single shared
// submit description. The DAG declares no PARENT/CHILD edges: every node is
// independent and the scheduler may run them all at once.
//
// # Determinism
//
// Rendering is a pure function of the Workflow. Node order follows the
// input timestamps, flag order is fixed by BuildFlags, and rendered text is
// NFC-normalized, so identical inputs always produce byte-identical files.
// Write replaces existing artifacts in place, which makes regeneration into
// an existing output directory safe.
package workflow

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/scanbatch/internal/gpstime"
)

// GPSMacro is the DAG variable carrying each node's timestamp.
const GPSMacro = "gpstime"

// Config holds the batch-wide scheduler settings.
type Config struct {
	Tag        string // sanitized with SanitizeTag
	OutputDir  string // made absolute
	Universe   string
	Executable string
}

// JobNode is one scheduler job: the shared flags plus its own timestamp.
type JobNode struct {
	Name  string
	GPS   float64
	flags *InvocationFlags
}

// Arguments returns the full argument vector of this node's pipeline
// invocation. The node's timestamp appears exactly once, first.
func (n JobNode) Arguments() []string {
	return append([]string{gpstime.Format(n.GPS)}, n.flags.Args()...)
}

// Workflow is a flat fan-out of JobNodes sharing one submit description.
type Workflow struct {
	Tag        string
	OutputDir  string
	Universe   string
	Executable string
	Flags      *InvocationFlags
	Directives SubmissionDirectives
	Nodes      []JobNode
}

// New builds a Workflow with one node per timestamp, in input order.
func New(cfg Config, times []float64, flags *InvocationFlags, directives SubmissionDirectives) (*Workflow, error) {
	if len(times) == 0 {
		return nil, gpstime.ErrNoTimes
	}
	if flags == nil {
		return nil, &InputError{Field: "flags", Message: "invocation flags are required"}
	}

	tag := SanitizeTag(cfg.Tag)
	if tag == "" {
		return nil, &InputError{Field: "tag", Message: fmt.Sprintf("workflow tag %q is empty after sanitizing", cfg.Tag)}
	}
	if cfg.Universe == "" {
		return nil, &InputError{Field: "universe", Message: "universe is required"}
	}
	if cfg.Executable == "" {
		return nil, &InputError{Field: "executable", Message: "executable is required"}
	}

	outdir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, &InputError{Field: "output-dir", Message: "resolving output directory", Err: err}
	}

	nodes := make([]JobNode, len(times))
	for i, t := range times {
		nodes[i] = JobNode{
			Name:  fmt.Sprintf("%s_%d", tag, i),
			GPS:   t,
			flags: flags,
		}
	}

	return &Workflow{
		Tag:        tag,
		OutputDir:  outdir,
		Universe:   cfg.Universe,
		Executable: cfg.Executable,
		Flags:      flags,
		Directives: directives,
		Nodes:      nodes,
	}, nil
}

// SanitizeTag reduces a command name to a tag safe for file and node names.
func SanitizeTag(name string) string {
	name = norm.NFC.String(strings.TrimSpace(filepath.Base(name)))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

// DAGPath is the workflow descriptor path.
func (w *Workflow) DAGPath() string {
	return filepath.Join(w.OutputDir, w.Tag+".dag")
}

// SubmitPath is the submission descriptor path.
func (w *Workflow) SubmitPath() string {
	return filepath.Join(w.OutputDir, w.Tag+".sub")
}

// LogDir holds the scheduler's job log and per-job stdout/stderr.
func (w *Workflow) LogDir() string {
	return filepath.Join(w.OutputDir, "logs")
}

// LogPath is the scheduler job event log shared by all nodes.
func (w *Workflow) LogPath() string {
	return filepath.Join(w.LogDir(), w.Tag+".log")
}

// MaxGPS returns the latest timestamp in the batch.
func (w *Workflow) MaxGPS() float64 {
	times := make([]float64, len(w.Nodes))
	for i, n := range w.Nodes {
		times[i] = n.GPS
	}
	return gpstime.Max(times)
}
