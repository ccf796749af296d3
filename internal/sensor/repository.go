package sensor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines sensor persistence operations.
type Repository interface {
	// FindByDeviceAndType returns ErrSensorNotFound when the device has no
	// sensor of that type.
	FindByDeviceAndType(ctx context.Context, deviceID int64, typeName string) (*Sensor, error)

	GetBySensorID(ctx context.Context, sensorID string) (*Sensor, error)

	ListByDevice(ctx context.Context, deviceID int64) ([]Sensor, error)

	// Create inserts s with its provisional SensorID, then renames it to
	// durableID(rowID), atomically. Returns ErrSensorExists on a
	// (device, type) conflict.
	Create(ctx context.Context, s *Sensor, durableID func(rowID int64) string) error

	UpdateUnit(ctx context.Context, id int64, unit string) error

	// UpdateLatest sets value and lastUpdate unless the stored lastUpdate is
	// newer than at. Reports whether the row changed.
	UpdateLatest(ctx context.Context, id int64, value string, at time.Time) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed sensor repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sensorColumns = `id, sensor_id, smart_device_id, name, type, value, unit,
	is_alert, last_update, created_at, updated_at`

// FindByDeviceAndType looks a sensor up by its natural key.
func (r *SQLiteRepository) FindByDeviceAndType(ctx context.Context, deviceID int64, typeName string) (*Sensor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE smart_device_id = ? AND type = ?`,
		deviceID, typeName)
	return scanOne(row)
}

// GetBySensorID looks a sensor up by its durable identifier.
func (r *SQLiteRepository) GetBySensorID(ctx context.Context, sensorID string) (*Sensor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE sensor_id = ?`, sensorID)
	return scanOne(row)
}

// ListByDevice returns a device's sensors ordered by type.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID int64) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE smart_device_id = ? ORDER BY type`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		sensors = append(sensors, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}
	return sensors, nil
}

// Create inserts then renames the sensor inside one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, s *Sensor, durableID func(rowID int64) string) error {
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sensors (
			sensor_id, smart_device_id, name, type, value, unit,
			is_alert, last_update, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SensorID, s.DeviceID, s.Name, s.Type, s.Value, nullableString(s.Unit),
		boolToInt(s.IsAlert), nullableTime(s.LastUpdate), FormatTime(now), FormatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSensorExists
		}
		return fmt.Errorf("inserting sensor: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sensor id: %w", err)
	}

	durable := durableID(id)
	if _, err := tx.ExecContext(ctx,
		`UPDATE sensors SET sensor_id = ? WHERE id = ?`, durable, id,
	); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: durable id %q", ErrSensorExists, durable)
		}
		return fmt.Errorf("assigning durable sensor id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sensor: %w", err)
	}

	s.ID = id
	s.SensorID = durable
	return nil
}

// UpdateUnit replaces the stored unit.
func (r *SQLiteRepository) UpdateUnit(ctx context.Context, id int64, unit string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sensors SET unit = ?, updated_at = ? WHERE id = ?`,
		unit, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating sensor unit: %w", err)
	}
	return requireOneRow(res)
}

// UpdateLatest applies a newer-or-equal latest value.
func (r *SQLiteRepository) UpdateLatest(ctx context.Context, id int64, value string, at time.Time) (bool, error) {
	stamp := FormatTime(at)
	res, err := r.db.ExecContext(ctx, `
		UPDATE sensors SET value = ?, last_update = ?, updated_at = ?
		WHERE id = ? AND (last_update IS NULL OR last_update <= ?)`,
		value, stamp, FormatTime(time.Now()), id, stamp)
	if err != nil {
		return false, fmt.Errorf("updating sensor latest value: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*Sensor, error) {
	s, err := scanSensor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("querying sensor: %w", err)
	}
	return s, nil
}

func scanSensor(row rowScanner) (*Sensor, error) {
	var (
		s                    Sensor
		unit, lastUpdate     sql.NullString
		isAlert              int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&s.ID, &s.SensorID, &s.DeviceID, &s.Name, &s.Type, &s.Value, &unit,
		&isAlert, &lastUpdate, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	s.IsAlert = isAlert != 0
	if unit.Valid {
		s.Unit = &unit.String
	}
	if lastUpdate.Valid {
		t, err := parseTime(lastUpdate.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_update: %w", err)
		}
		s.LastUpdate = &t
	}

	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSensorNotFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
