package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/sensor"
)

// Logger defines the logging interface used by the Ingestor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SensorResolver finds or creates the sensor of a device for a type.
// Implemented by sensor.Registry.
type SensorResolver interface {
	Resolve(ctx context.Context, deviceID int64, typeName, unit string) (*sensor.Sensor, bool, error)
}

// SensorStore updates a sensor's latest value.
// Implemented by sensor.SQLiteRepository.
type SensorStore interface {
	UpdateLatest(ctx context.Context, id int64, value string, at time.Time) (bool, error)
}

// ReadingStore stores readings idempotently.
// Implemented by sensor.SQLiteReadingRepository.
type ReadingStore interface {
	InsertIfAbsent(ctx context.Context, sensorID int64, value string, recordedAt time.Time) (bool, error)
}

// Point is a newly stored reading handed to a ReadingSink.
type Point struct {
	DeviceID   int64
	SensorID   string
	Type       string
	Unit       string
	Value      string
	RecordedAt time.Time
}

// ReadingSink receives every reading that was newly stored.
// It must not block; the InfluxDB mirror batches asynchronously.
type ReadingSink interface {
	WriteReading(p Point)
}

// Snapshot is a sensor's latest value after an ingestion.
type Snapshot struct {
	DeviceID   int64     `json:"deviceId"`
	SensorID   string    `json:"sensorId"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// SnapshotPublisher announces updated latest values.
type SnapshotPublisher interface {
	PublishSnapshot(s Snapshot) error
}

// Recorder observes ingestion outcomes.
type Recorder interface {
	ObserveIngest(deviceID int64, st Stats, err error)
}

// Stats summarises one ingestion call.
type Stats struct {
	// ProcessedLines counts every line after the header, skipped ones included.
	ProcessedLines int `json:"processedLines"`
	SensorsCreated int `json:"sensorsCreated"`

	ReadingsInserted  int `json:"readingsInserted"`
	DuplicatesSkipped int `json:"duplicatesSkipped"`
	RowsSkipped       int `json:"rowsSkipped"`
}

// Config holds ingestion settings.
type Config struct {
	// Location applies to timestamps without a zone offset. Defaults to UTC.
	Location *time.Location
}

// Ingestor reconciles CSV telemetry with the sensor store.
type Ingestor struct {
	resolver SensorResolver
	sensors  SensorStore
	readings ReadingStore

	loc       *time.Location
	now       func() time.Time
	logger    Logger
	sink      ReadingSink
	publisher SnapshotPublisher
	recorder  Recorder

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// New creates an Ingestor.
func New(cfg Config, resolver SensorResolver, sensors SensorStore, readings ReadingStore) *Ingestor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Ingestor{
		resolver: resolver,
		sensors:  sensors,
		readings: readings,
		loc:      loc,
		now:      time.Now,
		logger:   noopLogger{},
		locks:    make(map[int64]*sync.Mutex),
	}
}

// SetLogger sets the logger for the ingestor.
func (in *Ingestor) SetLogger(logger Logger) { in.logger = logger }

// SetSink mirrors newly stored readings to s.
func (in *Ingestor) SetSink(s ReadingSink) { in.sink = s }

// SetPublisher announces updated latest values through p.
func (in *Ingestor) SetPublisher(p SnapshotPublisher) { in.publisher = p }

// SetRecorder reports ingestion outcomes to r.
func (in *Ingestor) SetRecorder(r Recorder) { in.recorder = r }

// latest is the newest row seen for one sensor within a batch.
type latest struct {
	sensor *sensor.Sensor
	value  string
	at     time.Time
}

// Process ingests csvText for deviceID.
//
// Malformed rows are skipped and logged. An empty document yields zero
// stats and no error. A header without Device_Name or Value returns
// ErrMissingColumn. Store failures abort the call with an error wrapping
// ErrStorage; rows stored before the failure stay stored.
func (in *Ingestor) Process(ctx context.Context, csvText string, deviceID int64) (st Stats, err error) {
	unlock := in.lockDevice(deviceID)
	defer unlock()

	if in.recorder != nil {
		defer func() { in.recorder.ObserveIngest(deviceID, st, err) }()
	}

	lines := splitLines(csvText)
	if len(lines) == 0 {
		return Stats{}, nil
	}
	st.ProcessedLines = len(lines) - 1

	cols := mapColumns(splitFields(lines[0]))
	if cols.deviceName < 0 || cols.value < 0 {
		return Stats{}, fmt.Errorf("%w: header must contain %s and %s", ErrMissingColumn, colDeviceName, colValue)
	}

	batch := make(map[string]*latest)
	order := make([]string, 0)

	for i, line := range lines[1:] {
		lineNo := i + 2
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitFields(line)
		if len(fields) < cols.count {
			in.logger.Warn("skipping csv row with too few columns",
				"device_id", deviceID, "line", lineNo, "columns", len(fields), "expected", cols.count)
			st.RowsSkipped++
			continue
		}

		name := cols.field(fields, cols.deviceName)
		value := cols.field(fields, cols.value)
		if name == "" || value == "" {
			in.logger.Warn("skipping csv row without device name or value",
				"device_id", deviceID, "line", lineNo)
			st.RowsSkipped++
			continue
		}
		unit := cols.field(fields, cols.unit)

		recordedAt, ok := parseTimestamp(cols.timestamp(fields), in.loc)
		if !ok {
			recordedAt = in.now()
			in.logger.Debug("csv row timestamp missing or invalid, using current time",
				"device_id", deviceID, "line", lineNo)
		}

		s, created, err := in.resolver.Resolve(ctx, deviceID, name, unit)
		if err != nil {
			return st, fmt.Errorf("%w: resolving sensor %q: %w", ErrStorage, name, err)
		}
		if created {
			st.SensorsCreated++
		}

		inserted, err := in.readings.InsertIfAbsent(ctx, s.ID, value, recordedAt)
		if err != nil {
			return st, fmt.Errorf("%w: storing reading of %s: %w", ErrStorage, s.SensorID, err)
		}
		if inserted {
			st.ReadingsInserted++
			if in.sink != nil {
				in.sink.WriteReading(Point{
					DeviceID:   deviceID,
					SensorID:   s.SensorID,
					Type:       s.Type,
					Unit:       s.UnitOrEmpty(),
					Value:      value,
					RecordedAt: recordedAt,
				})
			}
		} else {
			st.DuplicatesSkipped++
		}

		// Ties keep the first row seen.
		cur, seen := batch[name]
		if !seen {
			batch[name] = &latest{sensor: s, value: value, at: recordedAt}
			order = append(order, name)
		} else if recordedAt.After(cur.at) {
			cur.sensor, cur.value, cur.at = s, value, recordedAt
		}
	}

	for _, name := range order {
		l := batch[name]
		applied, err := in.sensors.UpdateLatest(ctx, l.sensor.ID, l.value, l.at)
		if err != nil {
			return st, fmt.Errorf("%w: updating latest value of %s: %w", ErrStorage, l.sensor.SensorID, err)
		}
		if !applied {
			in.logger.Debug("batch older than stored latest value, snapshot kept",
				"device_id", deviceID, "sensor_id", l.sensor.SensorID)
			continue
		}
		if in.publisher != nil {
			snap := Snapshot{
				DeviceID:   deviceID,
				SensorID:   l.sensor.SensorID,
				Type:       l.sensor.Type,
				Value:      l.value,
				Unit:       l.sensor.UnitOrEmpty(),
				LastUpdate: l.at.UTC(),
			}
			if err := in.publisher.PublishSnapshot(snap); err != nil {
				in.logger.Warn("publishing sensor snapshot failed",
					"sensor_id", l.sensor.SensorID, "error", err)
			}
		}
	}

	in.logger.Info("csv processed",
		"device_id", deviceID,
		"processed_lines", st.ProcessedLines,
		"sensors_created", st.SensorsCreated,
		"readings_inserted", st.ReadingsInserted,
		"duplicates_skipped", st.DuplicatesSkipped,
		"rows_skipped", st.RowsSkipped,
	)
	return st, nil
}

// lockDevice serialises ingestion per device. Mutexes are kept for the
// process lifetime; there is one per device ever ingested.
func (in *Ingestor) lockDevice(deviceID int64) func() {
	in.locksMu.Lock()
	mu, ok := in.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		in.locks[deviceID] = mu
	}
	in.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
