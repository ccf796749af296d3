package sensor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ReadingRepository stores the per-sensor time series.
type ReadingRepository interface {
	// InsertIfAbsent stores a reading unless one already exists for the
	// same (sensor, recordedAt). Reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, sensorID int64, value string, recordedAt time.Time) (bool, error)

	// History returns readings newest first.
	History(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error)

	// CountBySensor returns how many readings a sensor has.
	CountBySensor(ctx context.Context, sensorID int64) (int, error)

	// PruneBefore deletes readings recorded before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a SQLite-backed reading repository.
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// InsertIfAbsent relies on the unique (sensor_id, recorded_at) index.
func (r *SQLiteReadingRepository) InsertIfAbsent(ctx context.Context, sensorID int64, value string, recordedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (sensor_id, value, recorded_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sensor_id, recorded_at) DO NOTHING`,
		sensorID, value, FormatTime(recordedAt), FormatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("inserting reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// History filters by durable sensor ids and an inclusive time range.
func (r *SQLiteReadingRepository) History(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	var (
		where []string
		args  []any
	)

	if len(q.SensorIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.SensorIDs)), ",")
		where = append(where, "s.sensor_id IN ("+placeholders+")")
		for _, id := range q.SensorIDs {
			args = append(args, id)
		}
	}
	if q.Start != nil {
		where = append(where, "r.recorded_at >= ?")
		args = append(args, FormatTime(*q.Start))
	}
	if q.End != nil {
		where = append(where, "r.recorded_at <= ?")
		args = append(args, FormatTime(*q.End))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT r.id, r.sensor_id, r.value, r.recorded_at, r.created_at,
			s.sensor_id, s.type, s.unit
		FROM sensor_readings r
		JOIN sensors s ON s.id = r.sensor_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.recorded_at DESC, r.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			e                     HistoryEntry
			recordedAt, createdAt string
			unit                  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SensorID, &e.Value, &recordedAt, &createdAt,
			&e.SensorKey, &e.Type, &unit); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if unit.Valid {
			e.Unit = &unit.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return entries, nil
}

// CountBySensor returns the number of readings stored for a sensor.
func (r *SQLiteReadingRepository) CountBySensor(ctx context.Context, sensorID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sensor_readings WHERE sensor_id = ?`, sensorID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return n, nil
}

// PruneBefore deletes old readings and returns how many were removed.
func (r *SQLiteReadingRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sensor_readings WHERE recorded_at < ?`, FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
