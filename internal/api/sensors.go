package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/sensor"
)

// dateLayout is accepted next to RFC 3339 in history filters.
const dateLayout = "2006-01-02"

// handleListDeviceSensors returns the sensors of a device with their latest values.
func (s *Server) handleListDeviceSensors(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := s.devices.GetDevice(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	sensors, err := s.sensors.ListByDevice(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sensors == nil {
		sensors = []sensor.Sensor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors, "count": len(sensors)})
}

// handleSensorHistory returns readings, newest first.
//
// Query parameters:
//   - sensor_ids: comma-separated durable sensor ids (default: all)
//   - start_date, end_date: RFC 3339 or YYYY-MM-DD, inclusive
//   - limit: 1-1000, default 50
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query sensor.HistoryQuery

	for _, id := range strings.Split(q.Get("sensor_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			query.SensorIDs = append(query.SensorIDs, id)
		}
	}

	if raw := q.Get("start_date"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			writeBadRequest(w, r, "start_date must be RFC 3339 or YYYY-MM-DD")
			return
		}
		query.Start = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			writeBadRequest(w, r, "end_date must be RFC 3339 or YYYY-MM-DD")
			return
		}
		query.End = &t
	}
	if query.Start != nil && query.End != nil && query.End.Before(*query.Start) {
		writeBadRequest(w, r, "end_date is before start_date")
		return
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > sensor.MaxHistoryLimit {
			writeBadRequest(w, r, "limit must be between 1 and "+strconv.Itoa(sensor.MaxHistoryLimit))
			return
		}
		query.Limit = n
	}

	entries, err := s.readings.History(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []sensor.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": entries, "count": len(entries)})
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
