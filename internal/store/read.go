package store

import (
	"context"
	"database/sql"
	"fmt"
)

const generationColumns = `seq, id, tag, dag_path, submit_path, dag_digest, submit_digest,
	nodes, max_gps, accounting_group, submit_status, exit_code`

// ListGenerations returns the most recent generations, newest first.
// limit <= 0 returns all records.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) ListGenerations(ctx context.Context, limit int) ([]Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	return collectGenerations(rows)
}

// FindByDigest returns every generation whose DAG digest matches, oldest
// first. A match means an identical workflow was written before.
func (s *Store) FindByDigest(ctx context.Context, dagDigest string) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE dag_digest = ? ORDER BY seq ASC`,
		dagDigest)
	if err != nil {
		return nil, fmt.Errorf("query generations by digest: %w", err)
	}
	return collectGenerations(rows)
}

// GetGeneration returns one generation by ID.
func (s *Store) GetGeneration(ctx context.Context, id string) (Generation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if err == sql.ErrNoRows {
		return Generation{}, fmt.Errorf("generation %s not found", id)
	}
	if err != nil {
		return Generation{}, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func collectGenerations(rows *sql.Rows) ([]Generation, error) {
	defer rows.Close()

	gens := []Generation{}
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		gens = append(gens, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return gens, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row scanner) (Generation, error) {
	var g Generation
	var exitCode sql.NullInt64
	err := row.Scan(
		&g.Seq,
		&g.ID,
		&g.Tag,
		&g.DAGPath,
		&g.SubmitPath,
		&g.DAGDigest,
		&g.SubmitDigest,
		&g.Nodes,
		&g.MaxGPS,
		&g.AccountingGroup,
		&g.SubmitStatus,
		&exitCode,
	)
	if err != nil {
		return Generation{}, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		g.ExitCode = &code
	}
	return g, nil
}
