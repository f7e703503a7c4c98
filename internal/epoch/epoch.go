// Package epoch maps GPS timestamps to named observing epochs.
//
// Epoch tables are CUE data validated against an embedded schema. The
// built-in table carries the observing run start times; deployments that
// need the analysis pipeline's own boundaries pass their table file to
// LoadFile.
package epoch

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

//go:embed epochs.cue
var defaultCUE []byte

// Epoch is one named time bucket. It covers [Start, next epoch's Start).
type Epoch struct {
	Label string `json:"label"`
	Start int64  `json:"start"`
}

// Table is an ordered set of epochs, sorted by Start.
type Table struct {
	epochs []Epoch
}

// TableError reports an invalid epoch table, with source position when known.
type TableError struct {
	Message string
	Pos     token.Pos
}

func (e *TableError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LookupError reports a timestamp that precedes every epoch in the table.
type LookupError struct {
	GPS   float64
	First int64
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no epoch covers GPS time %v (earliest epoch starts at %d)", e.GPS, e.First)
}

// Default returns the built-in epoch table.
func Default() *Table {
	t, err := Parse("epochs.cue", defaultCUE)
	if err != nil {
		panic(fmt.Sprintf("built-in epoch table is invalid: %v", err))
	}
	return t
}

// LoadFile reads and validates a CUE epoch table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read epoch table: %w", err)
	}
	return Parse(path, data)
}

// Parse compiles CUE source, unifies it with the epoch schema and decodes
// the epochs list. The table must be non-empty with strictly increasing
// starts and unique labels.
func Parse(filename string, src []byte) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	list := v.LookupPath(cue.ParsePath("epochs"))
	var epochs []Epoch
	if err := list.Decode(&epochs); err != nil {
		return nil, formatCUEError(err)
	}
	if len(epochs) == 0 {
		return nil, &TableError{Message: "at least one epoch is required", Pos: list.Pos()}
	}

	seen := make(map[string]bool, len(epochs))
	for i, e := range epochs {
		if seen[e.Label] {
			return nil, &TableError{Message: fmt.Sprintf("duplicate epoch label %q", e.Label), Pos: list.Pos()}
		}
		seen[e.Label] = true
		if i > 0 && e.Start <= epochs[i-1].Start {
			return nil, &TableError{
				Message: fmt.Sprintf("epoch %q must start after %q", e.Label, epochs[i-1].Label),
				Pos:     list.Pos(),
			}
		}
	}

	return &Table{epochs: epochs}, nil
}

// Epochs returns a copy of the table's epochs in order.
func (t *Table) Epochs() []Epoch {
	out := make([]Epoch, len(t.epochs))
	copy(out, t.epochs)
	return out
}

// Lookup returns the latest epoch whose start is not after gps.
func (t *Table) Lookup(gps float64) (Epoch, error) {
	// First index whose start is after gps; the epoch before it covers gps.
	i := sort.Search(len(t.epochs), func(i int) bool {
		return float64(t.epochs[i].Start) > gps
	})
	if i == 0 {
		return Epoch{}, &LookupError{GPS: gps, First: t.epochs[0].Start}
	}
	return t.epochs[i-1], nil
}

// Label returns the label of the epoch covering gps.
func (t *Table) Label(gps float64) (string, error) {
	e, err := t.Lookup(gps)
	if err != nil {
		return "", err
	}
	return e.Label, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &TableError{Message: err.Error()}
	}

	first := errs[0]
	te := &TableError{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		te.Pos = positions[0]
	}
	return te
}
