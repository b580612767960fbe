package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists fans. The SQLite implementation is used in
// production; tests can substitute their own.
type Repository interface {
	Get(ctx context.Context, id string) (*Fan, error)
	List(ctx context.Context) ([]Fan, error)
	Create(ctx context.Context, fan *Fan) error
	Update(ctx context.Context, fan *Fan) error
	Delete(ctx context.Context, id string) error

	// UpdateIdentity stores the identity the fan reported for itself.
	UpdateIdentity(ctx context.Context, id, learnedID string) error
}

// SQLiteRepository implements Repository on the fans table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const fanColumns = `id, name, ip, port, learned_id, idle_timeout_min, temperature_unit, enabled, created_at, updated_at`

// Get returns ErrFanNotFound when id is unknown.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Fan, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+fanColumns+" FROM fans WHERE id = ?", id)
	fan, err := scanFan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying fan %s: %w", id, err)
	}
	return fan, nil
}

// List returns every fan ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Fan, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+fanColumns+" FROM fans ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, fmt.Errorf("querying fans: %w", err)
	}
	defer rows.Close()

	var fans []Fan
	for rows.Next() {
		fan, err := scanFan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fan: %w", err)
		}
		fans = append(fans, *fan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fans: %w", err)
	}
	return fans, nil
}

// Create inserts fan, setting its timestamps. Returns ErrFanExists when
// the ID or name is already taken.
func (r *SQLiteRepository) Create(ctx context.Context, fan *Fan) error {
	now := time.Now().UTC()
	fan.CreatedAt = now
	fan.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO fans ("+fanColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		fan.ID, fan.Name, fan.IP, fan.Port, fan.LearnedID, fan.IdleTimeoutMinutes,
		strings.ToUpper(fan.TemperatureUnit), boolToInt(fan.Enabled),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrFanExists, fan.ID)
		}
		return fmt.Errorf("inserting fan: %w", err)
	}
	return nil
}

// Update overwrites the editable fields of an existing fan.
func (r *SQLiteRepository) Update(ctx context.Context, fan *Fan) error {
	fan.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE fans SET name = ?, ip = ?, port = ?, learned_id = ?, idle_timeout_min = ?,
			temperature_unit = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		fan.Name, fan.IP, fan.Port, fan.LearnedID, fan.IdleTimeoutMinutes,
		strings.ToUpper(fan.TemperatureUnit), boolToInt(fan.Enabled), formatTime(fan.UpdatedAt),
		fan.ID,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: name %s", ErrFanExists, fan.Name)
		}
		return fmt.Errorf("updating fan: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a fan and, by cascade, its history.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM fans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting fan: %w", err)
	}
	return expectOneRow(result)
}

// UpdateIdentity records the fan's self-reported identity.
func (r *SQLiteRepository) UpdateIdentity(ctx context.Context, id, learnedID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE fans SET learned_id = ?, updated_at = ? WHERE id = ?",
		learnedID, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating learned identity: %w", err)
	}
	return expectOneRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFan(row rowScanner) (*Fan, error) {
	var (
		fan                  Fan
		enabled              int
		createdAt, updatedAt string
	)
	err := row.Scan(&fan.ID, &fan.Name, &fan.IP, &fan.Port, &fan.LearnedID,
		&fan.IdleTimeoutMinutes, &fan.TemperatureUnit, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	fan.Enabled = enabled != 0
	fan.CreatedAt = parseTime(createdAt)
	fan.UpdatedAt = parseTime(updatedAt)
	return &fan, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrFanNotFound
	}
	return nil
}

func isConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
