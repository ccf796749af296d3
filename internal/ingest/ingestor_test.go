package ingest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/database"
	"github.com/nomanocra/SmartConnectServer/internal/sensor"
	"github.com/nomanocra/SmartConnectServer/migrations"
)

const scenarioCSV = "Device_Name,Value,Unit,Timestamp\n" +
	"Temperature,21,°C,2025-01-15 14:30:00\n" +
	"Temperature,23,°C,2025-01-15 14:35:00"

type testEnv struct {
	db       *sql.DB
	deviceID int64
	sensors  *sensor.SQLiteRepository
	readings *sensor.SQLiteReadingRepository
	ing      *Ingestor
}

func setupTestIngestor(t *testing.T) *testEnv {
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
		VALUES ('boitier.example.com', 'Boitier', ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("inserting device: %v", err)
	}
	deviceID, _ := res.LastInsertId()

	sensors := sensor.NewSQLiteRepository(db.DB)
	readings := sensor.NewSQLiteReadingRepository(db.DB)
	ing := New(Config{Location: time.UTC}, sensor.NewRegistry(sensors), sensors, readings)

	return &testEnv{db: db.DB, deviceID: deviceID, sensors: sensors, readings: readings, ing: ing}
}

func (e *testEnv) sensor(t *testing.T, typeName string) *sensor.Sensor {
	t.Helper()
	s, err := e.sensors.FindByDeviceAndType(context.Background(), e.deviceID, typeName)
	if err != nil {
		t.Fatalf("FindByDeviceAndType(%q) error = %v", typeName, err)
	}
	return s
}

func (e *testEnv) count(t *testing.T, s *sensor.Sensor) int {
	t.Helper()
	n, err := e.readings.CountBySensor(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("CountBySensor() error = %v", err)
	}
	return n
}

func TestProcess_Scenario(t *testing.T) {
	env := setupTestIngestor(t)

	st, err := env.ing.Process(context.Background(), scenarioCSV, env.deviceID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if st.ProcessedLines != 2 || st.SensorsCreated != 1 || st.ReadingsInserted != 2 {
		t.Errorf("Process() stats = %+v, want 2 lines, 1 sensor, 2 readings", st)
	}

	s := env.sensor(t, "Temperature")
	if s.Value != "23" {
		t.Errorf("Value = %q, want 23", s.Value)
	}
	want := time.Date(2025, 1, 15, 14, 35, 0, 0, time.UTC)
	if s.LastUpdate == nil || !s.LastUpdate.Equal(want) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate, want)
	}
	if s.UnitOrEmpty() != "°C" {
		t.Errorf("Unit = %q, want °C", s.UnitOrEmpty())
	}
	if n := env.count(t, s); n != 2 {
		t.Errorf("readings = %d, want 2", n)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	env := setupTestIngestor(t)
	ctx := context.Background()

	if _, err := env.ing.Process(ctx, scenarioCSV, env.deviceID); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	st, err := env.ing.Process(ctx, scenarioCSV, env.deviceID)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if st.SensorsCreated != 0 {
		t.Errorf("second SensorsCreated = %d, want 0", st.SensorsCreated)
	}
	if st.ReadingsInserted != 0 || st.DuplicatesSkipped != 2 {
		t.Errorf("second stats = %+v, want 0 inserted, 2 duplicates", st)
	}
	if n := env.count(t, env.sensor(t, "Temperature")); n != 2 {
		t.Errorf("readings = %d, want 2", n)
	}
}

func TestProcess_OverlappingPullWindows(t *testing.T) {
	env := setupTestIngestor(t)
	ctx := context.Background()

	first := "Device_Name,Value,Timestamp\n" +
		"Temperature,20,2025-01-15 14:00:00\n" +
		"Temperature,21,2025-01-15 14:15:00\n" +
		"Temperature,22,2025-01-15 14:30:00"
	// Second window starts before the last reading of the first.
	second := "Device_Name,Value,Timestamp\n" +
		"Temperature,21,2025-01-15 14:15:00\n" +
		"Temperature,22,2025-01-15 14:30:00\n" +
		"Temperature,24,2025-01-15 14:45:00"

	if _, err := env.ing.Process(ctx, first, env.deviceID); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	st, err := env.ing.Process(ctx, second, env.deviceID)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if st.ReadingsInserted != 1 || st.DuplicatesSkipped != 2 {
		t.Errorf("second stats = %+v, want 1 inserted, 2 duplicates", st)
	}
	s := env.sensor(t, "Temperature")
	if n := env.count(t, s); n != 4 {
		t.Errorf("readings = %d, want 4", n)
	}
	if s.Value != "24" {
		t.Errorf("Value = %q, want 24", s.Value)
	}

	var dupes int
	if err := env.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT sensor_id, recorded_at FROM sensor_readings
			GROUP BY sensor_id, recorded_at HAVING COUNT(*) > 1
		)`).Scan(&dupes); err != nil {
		t.Fatalf("counting duplicates: %v", err)
	}
	if dupes != 0 {
		t.Errorf("found %d duplicated (sensor, recordedAt) pairs", dupes)
	}
}

func TestProcess_LatestValuePerSensor(t *testing.T) {
	env := setupTestIngestor(t)

	csv := "Device_Name,Value,Unit,Timestamp\n" +
		"Temperature,22,°C,2025-01-15 14:35:00\n" +
		"Humidity,40,%,2025-01-15 14:00:00\n" +
		"Temperature,19,°C,2025-01-15 14:10:00\n" +
		"Temperature,25,°C,2025-01-15 14:35:00\n" +
		"Humidity,45,%,2025-01-15 14:20:00\n"

	st, err := env.ing.Process(context.Background(), csv, env.deviceID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if st.SensorsCreated != 2 {
		t.Errorf("SensorsCreated = %d, want 2", st.SensorsCreated)
	}
	// The tie at 14:35 keeps the first row seen; its duplicate timestamp is not stored twice.
	if st.ReadingsInserted != 4 || st.DuplicatesSkipped != 1 {
		t.Errorf("stats = %+v, want 4 inserted, 1 duplicate", st)
	}

	if got := env.sensor(t, "Temperature").Value; got != "22" {
		t.Errorf("Temperature value = %q, want 22", got)
	}
	if got := env.sensor(t, "Humidity").Value; got != "45" {
		t.Errorf("Humidity value = %q, want 45", got)
	}
}

func TestProcess_OlderBatchDoesNotRewind(t *testing.T) {
	env := setupTestIngestor(t)
	ctx := context.Background()

	if _, err := env.ing.Process(ctx, scenarioCSV, env.deviceID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	older := "Device_Name,Value,Unit,Timestamp\nTemperature,10,°C,2025-01-14 09:00:00"
	st, err := env.ing.Process(ctx, older, env.deviceID)
	if err != nil {
		t.Fatalf("Process(older) error = %v", err)
	}
	if st.ReadingsInserted != 1 {
		t.Errorf("older reading not stored: %+v", st)
	}

	s := env.sensor(t, "Temperature")
	if s.Value != "23" {
		t.Errorf("Value = %q after older batch, want 23", s.Value)
	}
}

func TestProcess_RowHandling(t *testing.T) {
	tests := []struct {
		name          string
		csv           string
		wantLines     int
		wantInserted  int
		wantSkipped   int
		wantValue     string
		wantLastAt    time.Time
		wantSensorErr bool
	}{
		{
			name:         "quoted fields are unwrapped",
			csv:          "\"Device_Name\",\"Value\",\"Unit\",\"Timestamp\"\n\"Temperature\",\"21.5\",\"°C\",\"2025-01-15 14:30:00\"",
			wantLines:    1,
			wantInserted: 1,
			wantValue:    "21.5",
		},
		{
			name:         "short rows skipped but counted",
			csv:          "Device_Name,Value,Unit,Timestamp\nTemperature,21\nTemperature,22,°C,2025-01-15 14:30:00",
			wantLines:    2,
			wantInserted: 1,
			wantSkipped:  1,
			wantValue:    "22",
		},
		{
			name:         "blank lines counted not skipped",
			csv:          "Device_Name,Value,Timestamp\n\nTemperature,22,2025-01-15 14:30:00\n   \n",
			wantLines:    2,
			wantInserted: 1,
			wantValue:    "22",
		},
		{
			name:          "missing name or value skipped",
			csv:           "Device_Name,Value,Timestamp\n,22,2025-01-15 14:30:00\nTemperature,,2025-01-15 14:30:00",
			wantLines:     2,
			wantSkipped:   2,
			wantSensorErr: true,
		},
		{
			name:         "extra columns tolerated",
			csv:          "Device_Name,Value,Date\nTemperature,18,2025-01-15 14:30:00,extra",
			wantLines:    1,
			wantInserted: 1,
			wantValue:    "18",
		},
		{
			name:         "windows line endings",
			csv:          "Device_Name,Value,Time\r\nTemperature,17,2025-01-15 14:30:00\r\n",
			wantLines:    1,
			wantInserted: 1,
			wantValue:    "17",
		},
		{
			name:         "empty timestamp cell falls back to date",
			csv:          "Device_Name,Value,Unit,Timestamp,Date\nTemperature,21,C,,2025-01-15 14:30:00",
			wantLines:    1,
			wantInserted: 1,
			wantValue:    "21",
			wantLastAt:   time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		},
		{
			name:         "byte order mark before header",
			csv:          "\ufeffDevice_Name,Value,Unit,Timestamp\r\nTemperature,19,C,2025-01-15 14:30:00\r\n",
			wantLines:    1,
			wantInserted: 1,
			wantValue:    "19",
			wantLastAt:   time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestIngestor(t)

			st, err := env.ing.Process(context.Background(), tt.csv, env.deviceID)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if st.ProcessedLines != tt.wantLines || st.ReadingsInserted != tt.wantInserted || st.RowsSkipped != tt.wantSkipped {
				t.Errorf("stats = %+v, want lines=%d inserted=%d skipped=%d",
					st, tt.wantLines, tt.wantInserted, tt.wantSkipped)
			}

			s, err := env.sensors.FindByDeviceAndType(context.Background(), env.deviceID, "Temperature")
			if tt.wantSensorErr {
				if !errors.Is(err, sensor.ErrSensorNotFound) {
					t.Errorf("FindByDeviceAndType() error = %v, want ErrSensorNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindByDeviceAndType() error = %v", err)
			}
			if s.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", s.Value, tt.wantValue)
			}
			if !tt.wantLastAt.IsZero() && (s.LastUpdate == nil || !s.LastUpdate.Equal(tt.wantLastAt)) {
				t.Errorf("LastUpdate = %v, want %v", s.LastUpdate, tt.wantLastAt)
			}
		})
	}
}

func TestProcess_BadTimestampUsesNow(t *testing.T) {
	env := setupTestIngestor(t)
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	env.ing.now = func() time.Time { return fixed }

	csv := "Device_Name,Value,Timestamp\nTemperature,21,not-a-date\nPressure,1013,"
	st, err := env.ing.Process(context.Background(), csv, env.deviceID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if st.ReadingsInserted != 2 {
		t.Errorf("ReadingsInserted = %d, want 2", st.ReadingsInserted)
	}
	for _, typ := range []string{"Temperature", "Pressure"} {
		s := env.sensor(t, typ)
		if s.LastUpdate == nil || !s.LastUpdate.Equal(fixed) {
			t.Errorf("%s LastUpdate = %v, want %v", typ, s.LastUpdate, fixed)
		}
	}
}

func TestProcess_EmptyAndInvalidHeader(t *testing.T) {
	env := setupTestIngestor(t)
	ctx := context.Background()

	for _, in := range []string{"", "   ", "\n\n"} {
		st, err := env.ing.Process(ctx, in, env.deviceID)
		if err != nil || st != (Stats{}) {
			t.Errorf("Process(%q) = %+v, %v; want zero stats, nil", in, st, err)
		}
	}

	_, err := env.ing.Process(ctx, "Name,Reading\nTemperature,21", env.deviceID)
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Process() error = %v, want ErrMissingColumn", err)
	}
}

type failingReadings struct{}

func (failingReadings) InsertIfAbsent(context.Context, int64, string, time.Time) (bool, error) {
	return false, errors.New("disk I/O error")
}

func TestProcess_StorageFailure(t *testing.T) {
	env := setupTestIngestor(t)
	ing := New(Config{}, sensor.NewRegistry(env.sensors), env.sensors, failingReadings{})

	_, err := ing.Process(context.Background(), scenarioCSV, env.deviceID)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("Process() error = %v, want ErrStorage", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	points []Point
}

func (s *recordingSink) WriteReading(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
}

type recordingPublisher struct {
	snapshots []Snapshot
	err       error
}

func (p *recordingPublisher) PublishSnapshot(s Snapshot) error {
	p.snapshots = append(p.snapshots, s)
	return p.err
}

type recordingRecorder struct {
	deviceID int64
	stats    Stats
	err      error
	calls    int
}

func (r *recordingRecorder) ObserveIngest(deviceID int64, st Stats, err error) {
	r.deviceID, r.stats, r.err = deviceID, st, err
	r.calls++
}

func TestProcess_SinkPublisherRecorder(t *testing.T) {
	env := setupTestIngestor(t)
	sink := &recordingSink{}
	pub := &recordingPublisher{err: errors.New("broker down")}
	rec := &recordingRecorder{}
	env.ing.SetSink(sink)
	env.ing.SetPublisher(pub)
	env.ing.SetRecorder(rec)
	ctx := context.Background()

	if _, err := env.ing.Process(ctx, scenarioCSV, env.deviceID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// Publisher failures never fail ingestion.
	if _, err := env.ing.Process(ctx, scenarioCSV, env.deviceID); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if len(sink.points) != 2 {
		t.Fatalf("sink received %d points, want 2 (duplicates are not mirrored)", len(sink.points))
	}
	if p := sink.points[1]; p.Value != "23" || p.Type != "Temperature" || p.Unit != "°C" || p.DeviceID != env.deviceID {
		t.Errorf("point = %+v", p)
	}

	if len(pub.snapshots) != 2 {
		t.Fatalf("publisher received %d snapshots, want 2", len(pub.snapshots))
	}
	if s := pub.snapshots[0]; s.Value != "23" || !s.LastUpdate.Equal(time.Date(2025, 1, 15, 14, 35, 0, 0, time.UTC)) {
		t.Errorf("snapshot = %+v", s)
	}

	if rec.calls != 2 || rec.deviceID != env.deviceID || rec.err != nil || rec.stats.DuplicatesSkipped != 2 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestProcess_ConcurrentSameDevice(t *testing.T) {
	env := setupTestIngestor(t)
	ctx := context.Background()

	csv := "Device_Name,Value,Timestamp\n" +
		"Temperature,21,2025-01-15 14:30:00\n" +
		"Humidity,40,2025-01-15 14:30:00\n" +
		"Pressure,1013,2025-01-15 14:30:00"

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := env.ing.Process(ctx, csv, env.deviceID)
			if err != nil {
				t.Errorf("Process() error = %v", err)
				return
			}
			mu.Lock()
			created += st.SensorsCreated
			mu.Unlock()
		}()
	}
	wg.Wait()

	if created != 3 {
		t.Errorf("total SensorsCreated = %d, want 3", created)
	}
	var n int
	if err := env.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_readings").Scan(&n); err != nil {
		t.Fatalf("counting readings: %v", err)
	}
	if n != 3 {
		t.Errorf("readings = %d, want 3", n)
	}
}
