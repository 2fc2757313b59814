package session

import (
	"context"
	"database/sql"
	"errors"

	"rollcall/internal/token"
)

// Repository persists session descriptors in Postgres. Rows are insert-only;
// a descriptor never changes after it is issued (the sweep flag is worker
// bookkeeping, not descriptor state).
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a freshly issued descriptor.
func (r *Repository) Insert(ctx context.Context, d token.SessionDescriptor) error {
	var lat, lng, radius sql.NullFloat64
	if d.Geofence != nil {
		lat = sql.NullFloat64{Float64: d.Geofence.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: d.Geofence.Longitude, Valid: true}
		radius = sql.NullFloat64{Float64: d.Geofence.RadiusM, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, class_id, class_name, issuer_id, issued_at, expires_at, fence_lat, fence_lng, fence_radius_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.SessionToken, d.ClassID, d.ClassName, d.IssuerID, d.IssuedAt, d.ExpiresAt, lat, lng, radius)
	return err
}

const descriptorCols = `token, class_id, class_name, issuer_id, issued_at, expires_at, fence_lat, fence_lng, fence_radius_m`

func scanDescriptor(row interface{ Scan(...any) error }) (token.SessionDescriptor, error) {
	var d token.SessionDescriptor
	var lat, lng, radius sql.NullFloat64
	err := row.Scan(&d.SessionToken, &d.ClassID, &d.ClassName, &d.IssuerID, &d.IssuedAt, &d.ExpiresAt, &lat, &lng, &radius)
	if err != nil {
		return token.SessionDescriptor{}, err
	}
	if lat.Valid && lng.Valid && radius.Valid {
		d.Geofence = &token.Geofence{Latitude: lat.Float64, Longitude: lng.Float64, RadiusM: radius.Float64}
	}
	return d, nil
}

// Get returns the descriptor for a token, or nil when unknown.
func (r *Repository) Get(ctx context.Context, sessionToken string) (*token.SessionDescriptor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+descriptorCols+` FROM sessions WHERE token = $1
	`, sessionToken)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Latest returns the most recently issued descriptor for a class, expired or
// not, or nil when the class has never had a session.
func (r *Repository) Latest(ctx context.Context, classID string) (*token.SessionDescriptor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+descriptorCols+` FROM sessions
		WHERE class_id = $1
		ORDER BY issued_at DESC
		LIMIT 1
	`, classID)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ExpiredUnswept returns dead sessions whose absence sweep has not run yet.
func (r *Repository) ExpiredUnswept(ctx context.Context, limit int) ([]token.SessionDescriptor, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+descriptorCols+` FROM sessions
		WHERE swept = FALSE AND expires_at < NOW()
		ORDER BY expires_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []token.SessionDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkSwept records that the absence sweep ran for a session.
func (r *Repository) MarkSwept(ctx context.Context, sessionToken string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET swept = TRUE WHERE token = $1`, sessionToken)
	return err
}
