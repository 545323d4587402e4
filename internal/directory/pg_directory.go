package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) PatientName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx, `
		SELECT name
		FROM patients
		WHERE id = $1
	`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPatientNotFound
		}
		return "", fmt.Errorf("load patient name: %w", err)
	}
	return name, nil
}
