package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence operations.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// GetBySerial looks a device up by its normalised address.
	GetBySerial(ctx context.Context, serial string) (*Device, error)

	List(ctx context.Context) ([]Device, error)

	// ListAutoPull returns devices with auto-pull enabled and both
	// credentials present, the set restored at boot.
	ListAutoPull(ctx context.Context) ([]Device, error)

	// Create inserts a device and sets its ID and timestamps.
	// Returns ErrDeviceExists if the serial is already registered.
	Create(ctx context.Context, d *Device) error

	// Update returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes the device; sensors and readings cascade.
	Delete(ctx context.Context, id int64) error

	// RecordPull stores the outcome of a pull. A successful pull marks the
	// device connected and sets LastPullAt; a failed one marks it disconnected.
	RecordPull(ctx context.Context, id int64, at time.Time, ok bool) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, device_serial, name, is_connected, auto_pull, update_stamp,
	pull_username, pull_password, last_pull_at, created_at, updated_at`

// GetByID retrieves a device by its row id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM smart_devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetBySerial retrieves a device by normalised address.
func (r *SQLiteRepository) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM smart_devices WHERE device_serial = ?`, serial)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by serial: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM smart_devices ORDER BY name, id`)
}

// ListAutoPull retrieves every device eligible for an auto-pull task.
func (r *SQLiteRepository) ListAutoPull(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT `+deviceColumns+` FROM smart_devices
		WHERE auto_pull = 1
			AND pull_username IS NOT NULL AND pull_username != ''
			AND pull_password IS NOT NULL AND pull_password != ''
		ORDER BY id`)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC().Truncate(time.Second)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO smart_devices (
			device_serial, name, is_connected, auto_pull, update_stamp,
			pull_username, pull_password, last_pull_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Serial, d.Name, boolToInt(d.IsConnected), boolToInt(d.AutoPull), d.UpdateStamp,
		nullableString(d.Username), nullableString(d.Password), nullableTime(d.LastPullAt),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	d.ID = id
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	res, err := r.db.ExecContext(ctx, `
		UPDATE smart_devices SET
			device_serial = ?, name = ?, is_connected = ?, auto_pull = ?, update_stamp = ?,
			pull_username = ?, pull_password = ?, last_pull_at = ?, updated_at = ?
		WHERE id = ?`,
		d.Serial, d.Name, boolToInt(d.IsConnected), boolToInt(d.AutoPull), d.UpdateStamp,
		nullableString(d.Username), nullableString(d.Password), nullableTime(d.LastPullAt),
		d.UpdatedAt.Format(time.RFC3339), d.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(res)
}

// Delete removes a device by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM smart_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(res)
}

// RecordPull stores the connectivity outcome of a pull.
func (r *SQLiteRepository) RecordPull(ctx context.Context, id int64, at time.Time, ok bool) error {
	var (
		res sql.Result
		err error
	)
	stamp := at.UTC().Format(time.RFC3339)
	if ok {
		res, err = r.db.ExecContext(ctx,
			`UPDATE smart_devices SET is_connected = 1, last_pull_at = ?, updated_at = ? WHERE id = ?`,
			stamp, stamp, id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE smart_devices SET is_connected = 0, updated_at = ? WHERE id = ?`,
			stamp, id)
	}
	if err != nil {
		return fmt.Errorf("recording pull: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		isConnected, auto    int
		username, password   sql.NullString
		lastPull             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&d.ID, &d.Serial, &d.Name, &isConnected, &auto, &d.UpdateStamp,
		&username, &password, &lastPull, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.IsConnected = isConnected != 0
	d.AutoPull = auto != 0
	if username.Valid {
		d.Username = &username.String
	}
	if password.Valid {
		d.Password = &password.String
	}
	if lastPull.Valid {
		if t, err := time.Parse(time.RFC3339, lastPull.String); err == nil {
			d.LastPullAt = &t
		}
	}

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableString stores nil and empty strings as NULL.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString holding an RFC3339 UTC timestamp.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks for a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
