// Package gpstime normalizes command-line time input into an ordered list
// of GPS timestamps.
//
// Input is either one or more numeric tokens, or a single token naming a
// whitespace-delimited file whose first column holds the timestamps. The
// disambiguation rule is fixed: a lone token that does not parse as a
// number is a path. Order and duplicates are preserved.
package gpstime

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrNoTimes is returned when no time input was supplied or a file held no rows.
var ErrNoTimes = errors.New("no times given")

// ParseError reports a token that is not a valid timestamp.
type ParseError struct {
	Token  string
	Path   string // set when the token came from a file
	Line   int    // 1-based line within Path
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: invalid time %q: %s", e.Path, e.Line, e.Token, e.Reason)
	}
	return fmt.Sprintf("invalid time %q: %s", e.Token, e.Reason)
}

// FileError reports a time file that could not be read or held no rows.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("reading times from %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Kind tags which variant a Source holds.
type Kind int

const (
	// KindTimes means the tokens were the timestamps themselves.
	KindTimes Kind = iota
	// KindFile means the single token names a file of timestamps.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindTimes:
		return "times"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Source is the resolved form of raw time input: Times | File.
type Source struct {
	Kind  Kind
	Times []float64
	Path  string
}

// Resolve applies the disambiguation rule to raw tokens without touching
// the filesystem.
func Resolve(tokens []string) (Source, error) {
	switch len(tokens) {
	case 0:
		return Source{}, ErrNoTimes
	case 1:
		t, err := parse(tokens[0])
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) && pe.Reason == reasonNotNumeric {
				return Source{Kind: KindFile, Path: tokens[0]}, nil
			}
			return Source{}, err
		}
		return Source{Kind: KindTimes, Times: []float64{t}}, nil
	}

	times := make([]float64, len(tokens))
	for i, tok := range tokens {
		t, err := parse(tok)
		if err != nil {
			return Source{}, err
		}
		times[i] = t
	}
	return Source{Kind: KindTimes, Times: times}, nil
}

// Load returns the timestamps a Source refers to, reading the file for
// KindFile sources.
func (s Source) Load() ([]float64, error) {
	switch s.Kind {
	case KindTimes:
		if len(s.Times) == 0 {
			return nil, ErrNoTimes
		}
		out := make([]float64, len(s.Times))
		copy(out, s.Times)
		return out, nil
	case KindFile:
		return readFile(s.Path)
	default:
		return nil, fmt.Errorf("unknown source kind %v", s.Kind)
	}
}

// Normalize resolves raw tokens and loads the resulting timestamps.
func Normalize(tokens []string) ([]float64, error) {
	src, err := Resolve(tokens)
	if err != nil {
		return nil, err
	}
	return src.Load()
}

// Max returns the latest timestamp in times. times must be non-empty.
func Max(times []float64) float64 {
	max := times[0]
	for _, t := range times[1:] {
		if t > max {
			max = t
		}
	}
	return max
}

// Format renders a timestamp with the shortest representation that
// round-trips, so 1187008882 stays an integer string.
func Format(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

const reasonNotNumeric = "not a number"

func parse(tok string) (float64, error) {
	t, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil {
		return 0, &ParseError{Token: tok, Reason: reasonNotNumeric}
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, &ParseError{Token: tok, Reason: "not finite"}
	}
	if t < 0 {
		return 0, &ParseError{Token: tok, Reason: "negative"}
	}
	return t, nil
}

func readFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer f.Close()

	var times []float64
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		t, err := parse(fields[0])
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Path = path
				pe.Line = line
			}
			return nil, err
		}
		times = append(times, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if len(times) == 0 {
		return nil, &FileError{Path: path, Err: ErrNoTimes}
	}
	return times, nil
}
