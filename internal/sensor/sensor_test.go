package sensor

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/database"
	"github.com/nomanocra/SmartConnectServer/migrations"
)

// setupTestDB opens an in-memory store with the production schema and one
// registered device, whose id is returned.
func setupTestDB(t *testing.T) (*sql.DB, int64) {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := db.ExecContext(ctx, `
		INSERT INTO smart_devices (device_serial, name, created_at, updated_at)
		VALUES ('10.0.0.1', 'Boitier', ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("inserting device: %v", err)
	}
	deviceID, _ := res.LastInsertId()
	return db.DB, deviceID
}

func TestRegistry_ResolveCreatesThenReuses(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	ctx := context.Background()

	s, created, err := reg.Resolve(ctx, deviceID, "Temperature", "°C")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !created {
		t.Error("Resolve() created = false for a new type")
	}
	if want := DurableID("Temperature", s.ID); s.SensorID != want {
		t.Errorf("SensorID = %q, want %q", s.SensorID, want)
	}
	if s.Value != "" || s.IsAlert || s.LastUpdate != nil || s.UnitOrEmpty() != "°C" {
		t.Errorf("new sensor = %+v", s)
	}

	again, created, err := reg.Resolve(ctx, deviceID, "Temperature", "°C")
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if created || again.ID != s.ID {
		t.Errorf("second Resolve() created=%v id=%d, want reuse of %d", created, again.ID, s.ID)
	}

	stored, err := NewSQLiteRepository(db).GetBySensorID(ctx, s.SensorID)
	if err != nil {
		t.Fatalf("GetBySensorID() error = %v", err)
	}
	if strings.HasPrefix(stored.SensorID, "tmp_") {
		t.Errorf("provisional id persisted: %q", stored.SensorID)
	}
}

func TestRegistry_ResolveRefreshesUnit(t *testing.T) {
	db, deviceID := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	reg := NewRegistry(repo)
	ctx := context.Background()

	s, _, err := reg.Resolve(ctx, deviceID, "Pressure", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if s.Unit != nil {
		t.Errorf("Unit = %v, want nil", *s.Unit)
	}

	if _, _, err := reg.Resolve(ctx, deviceID, "Pressure", "hPa"); err != nil {
		t.Fatalf("Resolve(hPa) error = %v", err)
	}
	// An empty unit never clears a known one.
	if _, _, err := reg.Resolve(ctx, deviceID, "Pressure", ""); err != nil {
		t.Fatalf("Resolve(empty) error = %v", err)
	}

	got, err := repo.FindByDeviceAndType(ctx, deviceID, "Pressure")
	if err != nil {
		t.Fatalf("FindByDeviceAndType() error = %v", err)
	}
	if got.UnitOrEmpty() != "hPa" {
		t.Errorf("Unit = %q, want hPa", got.UnitOrEmpty())
	}
}

func TestRegistry_ResolveRejectsEmptyType(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))

	if _, _, err := reg.Resolve(context.Background(), deviceID, "  ", ""); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Resolve() error = %v, want ErrInvalidType", err)
	}
}

func TestRegistry_ResolveConcurrentSingleSensor(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[int64]bool)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, c, err := reg.Resolve(ctx, deviceID, "Humidity", "%")
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[s.ID] = true
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Errorf("created = %d, distinct sensors = %d; want 1, 1", created, len(ids))
	}
}

func TestSQLiteRepository_CreateDuplicateType(t *testing.T) {
	db, deviceID := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	durable := func(id int64) string { return DurableID("Temperature", id) }

	if err := repo.Create(ctx, &Sensor{SensorID: "tmp_a", DeviceID: deviceID, Name: "Temperature", Type: "Temperature"}, durable); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, &Sensor{SensorID: "tmp_b", DeviceID: deviceID, Name: "Temperature", Type: "Temperature"}, durable)
	if !errors.Is(err, ErrSensorExists) {
		t.Errorf("Create() duplicate error = %v, want ErrSensorExists", err)
	}

	sensors, err := repo.ListByDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(sensors) != 1 {
		t.Errorf("ListByDevice() = %d sensors, want 1", len(sensors))
	}
}

func TestSQLiteRepository_UpdateLatestGuard(t *testing.T) {
	db, deviceID := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	reg := NewRegistry(repo)
	ctx := context.Background()

	s, _, err := reg.Resolve(ctx, deviceID, "Temperature", "°C")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	t1 := time.Date(2025, 1, 15, 14, 35, 0, 0, time.UTC)
	t0 := t1.Add(-5 * time.Minute)
	// Sub-second precision must compare correctly against whole seconds.
	t2 := t1.Add(500 * time.Millisecond)

	tests := []struct {
		name    string
		value   string
		at      time.Time
		applied bool
		want    string
	}{
		{"first value", "23", t1, true, "23"},
		{"older batch ignored", "21", t0, false, "23"},
		{"same timestamp overwrites", "23.0", t1, true, "23.0"},
		{"fractional second newer", "24", t2, true, "24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := repo.UpdateLatest(ctx, s.ID, tt.value, tt.at)
			if err != nil {
				t.Fatalf("UpdateLatest() error = %v", err)
			}
			if applied != tt.applied {
				t.Errorf("UpdateLatest() applied = %v, want %v", applied, tt.applied)
			}
			got, _ := repo.FindByDeviceAndType(ctx, deviceID, "Temperature")
			if got.Value != tt.want {
				t.Errorf("Value = %q, want %q", got.Value, tt.want)
			}
		})
	}
}

func TestSQLiteReadingRepository_InsertIfAbsent(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	readings := NewSQLiteReadingRepository(db)
	ctx := context.Background()

	s, _, err := reg.Resolve(ctx, deviceID, "Temperature", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	at := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	inserted, err := readings.InsertIfAbsent(ctx, s.ID, "21", at)
	if err != nil || !inserted {
		t.Fatalf("InsertIfAbsent() = %v, %v; want true, nil", inserted, err)
	}

	// Same instant expressed in another zone is the same reading.
	paris := time.FixedZone("CET", 3600)
	inserted, err = readings.InsertIfAbsent(ctx, s.ID, "99", at.In(paris))
	if err != nil {
		t.Fatalf("InsertIfAbsent() duplicate error = %v", err)
	}
	if inserted {
		t.Error("InsertIfAbsent() inserted a duplicate (sensor, recordedAt)")
	}

	if n, _ := readings.CountBySensor(ctx, s.ID); n != 1 {
		t.Errorf("CountBySensor() = %d, want 1", n)
	}
}

func TestSQLiteReadingRepository_History(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	readings := NewSQLiteReadingRepository(db)
	ctx := context.Background()

	temp, _, _ := reg.Resolve(ctx, deviceID, "Temperature", "°C")
	hum, _, _ := reg.Resolve(ctx, deviceID, "Humidity", "%")

	base := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	for i := range 5 {
		at := base.Add(time.Duration(i) * 10 * time.Minute)
		if _, err := readings.InsertIfAbsent(ctx, temp.ID, "2"+string(rune('0'+i)), at); err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
		if _, err := readings.InsertIfAbsent(ctx, hum.ID, "50", at); err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
	}

	start := base.Add(10 * time.Minute)
	end := base.Add(30 * time.Minute)
	entries, err := readings.History(ctx, HistoryQuery{
		SensorIDs: []string{temp.SensorID},
		Start:     &start,
		End:       &end,
	})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("History() returned %d entries, want 3", len(entries))
	}
	if entries[0].Value != "23" || !entries[0].RecordedAt.Equal(end) {
		t.Errorf("newest entry = %+v, want 23 at %v", entries[0], end)
	}
	if entries[0].SensorKey != temp.SensorID || entries[0].Type != "Temperature" {
		t.Errorf("entry identity = %q/%q", entries[0].SensorKey, entries[0].Type)
	}

	all, err := readings.History(ctx, HistoryQuery{Limit: 4})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("History(limit 4) returned %d entries", len(all))
	}
}

func TestSQLiteReadingRepository_PruneBefore(t *testing.T) {
	db, deviceID := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	readings := NewSQLiteReadingRepository(db)
	ctx := context.Background()

	s, _, _ := reg.Resolve(ctx, deviceID, "Temperature", "")
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	readings.InsertIfAbsent(ctx, s.ID, "1", old)    //nolint:errcheck // setup
	readings.InsertIfAbsent(ctx, s.ID, "2", recent) //nolint:errcheck // setup

	n, err := readings.PruneBefore(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneBefore() removed %d, want 1", n)
	}
	if c, _ := readings.CountBySensor(ctx, s.ID); c != 1 {
		t.Errorf("CountBySensor() = %d, want 1", c)
	}
}
