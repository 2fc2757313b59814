package attendance

import (
	"context"
	"database/sql"
	"errors"
)

// Repository is the Postgres-backed Store. The unique index on
// (user_id, session_token) is what makes Save atomic under concurrent
// submissions from multiple devices.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts the record. Returns ErrDuplicateRecord when a record for the
// same (user, session token) already exists; the insert is a no-op then.
func (r *Repository) Save(ctx context.Context, rec Record) (Record, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, class_id, class_name, session_token, recorded_at, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, session_token) DO NOTHING
	`, rec.ID, rec.UserID, rec.ClassID, rec.ClassName, rec.SessionToken, rec.RecordedAt, rec.Outcome)
	if err != nil {
		return Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, ErrDuplicateRecord
	}
	return rec, nil
}

// Exists reports whether a record is present for the pair.
func (r *Repository) Exists(ctx context.Context, userID, sessionToken string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM attendance_records WHERE user_id = $1 AND session_token = $2
	`, userID, sessionToken).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByUser returns the user's records, most recent first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, class_id, class_name, session_token, recorded_at, outcome
		FROM attendance_records
		WHERE user_id = $1
		ORDER BY recorded_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ClassID, &rec.ClassName, &rec.SessionToken, &rec.RecordedAt, &rec.Outcome); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAbsentees returns enrolled students with no record for the session.
// The sweep worker turns these into absent records once the session is dead.
func (r *Repository) ListAbsentees(ctx context.Context, classID, sessionToken string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.user_id
		FROM enrollments e
		LEFT JOIN attendance_records a
			ON a.user_id = e.user_id AND a.session_token = $2
		WHERE e.class_id = $1 AND a.id IS NULL
		ORDER BY e.user_id
	`, classID, sessionToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}
