package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces ledger record IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record IDs.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns "<prefix>-1", "<prefix>-2", ... for
// deterministic tests.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator with the given prefix.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Submission states of a generation.
const (
	StatusNotRequested = "not_requested"
	StatusSubmitted    = "submitted"
	StatusFailed       = "failed"
)

// Generation is one recorded workflow.
type Generation struct {
	Seq             int64   `json:"seq"`
	ID              string  `json:"id"`
	Tag             string  `json:"tag"`
	DAGPath         string  `json:"dag_path"`
	SubmitPath      string  `json:"submit_path"`
	DAGDigest       string  `json:"dag_digest"`
	SubmitDigest    string  `json:"submit_digest"`
	Nodes           int     `json:"nodes"`
	MaxGPS          float64 `json:"max_gps"`
	AccountingGroup string  `json:"accounting_group"`
	SubmitStatus    string  `json:"submit_status"`
	ExitCode        *int    `json:"exit_code,omitempty"`
}

// RecordGeneration inserts a new generation and returns it with ID, Seq and
// SubmitStatus filled in. An empty g.ID is replaced by a generated one.
func (s *Store) RecordGeneration(ctx context.Context, g Generation) (Generation, error) {
	if g.ID == "" {
		g.ID = s.ids.Generate()
	}
	g.SubmitStatus = StatusNotRequested
	g.ExitCode = nil

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO generations
		(id, tag, dag_path, submit_path, dag_digest, submit_digest, nodes, max_gps, accounting_group)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID,
		g.Tag,
		g.DAGPath,
		g.SubmitPath,
		g.DAGDigest,
		g.SubmitDigest,
		g.Nodes,
		g.MaxGPS,
		g.AccountingGroup,
	)
	if err != nil {
		return Generation{}, fmt.Errorf("record generation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return Generation{}, fmt.Errorf("record generation: %w", err)
	}
	g.Seq = seq
	return g, nil
}

// RecordSubmission stores the scheduler's exit code for a generation.
// Zero marks it submitted, anything else failed. Only the first outcome is
// kept; later calls for the same record are ignored.
func (s *Store) RecordSubmission(ctx context.Context, id string, exitCode int) error {
	status := StatusSubmitted
	if exitCode != 0 {
		status = StatusFailed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE generations
		SET submit_status = ?, exit_code = ?
		WHERE id = ? AND submit_status = ?
	`, status, exitCode, id, StatusNotRequested)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	if n == 0 {
		exists, err := s.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("record submission: generation %s not found", id)
		}
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup generation: %w", err)
	}
	return n > 0, nil
}
