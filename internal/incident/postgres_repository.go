package incident

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the incidents table. It is applied by database.Migrate.
const Schema = `
	CREATE TABLE IF NOT EXISTS incidents (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lon         DOUBLE PRECISION NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reported_at TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS incidents_expires_at_idx ON incidents (expires_at);
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL incident repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves an incident by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Incident, error) {
	query := `
		SELECT id, kind, lat, lon, description, reported_at, expires_at
		FROM incidents
		WHERE id = $1
	`

	i, err := scanIncident(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	return &i, nil
}

// Active returns unexpired incidents ordered by report time.
func (r *PostgresRepository) Active(ctx context.Context, now time.Time) ([]Incident, error) {
	query := `
		SELECT id, kind, lat, lon, description, reported_at, expires_at
		FROM incidents
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY reported_at, id
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}

// Upsert creates or replaces an incident.
func (r *PostgresRepository) Upsert(ctx context.Context, i *Incident) error {
	query := `
		INSERT INTO incidents (id, kind, lat, lon, description, reported_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			description = EXCLUDED.description,
			reported_at = EXCLUDED.reported_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.pool.Exec(ctx, query,
		i.ID,
		string(i.Kind),
		i.Point.Lat,
		i.Point.Lon,
		i.Description,
		i.ReportedAt,
		i.ExpiresAt,
	)
	return err
}

// Delete removes an incident.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	return err
}

// DeleteExpired removes incidents that expired at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM incidents WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanIncident(row pgx.Row) (Incident, error) {
	var (
		i    Incident
		kind string
	)
	err := row.Scan(
		&i.ID,
		&kind,
		&i.Point.Lat,
		&i.Point.Lon,
		&i.Description,
		&i.ReportedAt,
		&i.ExpiresAt,
	)
	i.Kind = Kind(kind)
	return i, err
}

var _ Repository = (*PostgresRepository)(nil)
