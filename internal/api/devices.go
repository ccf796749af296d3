package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

// deviceView is a device with its auto-pull task state.
type deviceView struct {
	*device.Device
	AutoPullActive bool `json:"autoPullActive"`
}

func (s *Server) view(d *device.Device) deviceView {
	return deviceView{Device: d, AutoPullActive: s.scheduler.IsTaskActive(d.ID)}
}

// connectRequest is the body of POST /devices/connect.
type connectRequest struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`

	// Since overrides the default connect window.
	Since *time.Time `json:"since,omitempty"`
}

// connectResponse reports a device registration.
type connectResponse struct {
	Device  deviceView   `json:"device"`
	Created bool         `json:"created"`
	Stats   ingest.Stats `json:"stats"`
}

// handleListDevices returns all devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, s.view(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(dev))
}

// handleConnectDevice registers a boitier by pulling it once.
//
// Nothing is stored unless the pull succeeds. The device is then created,
// or its credentials refreshed when the address is already known, and the
// pulled CSV is ingested.
func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	switch {
	case req.Address == "":
		writeBadRequest(w, r, "address is required")
		return
	case req.Username == "" || req.Password == "":
		writeBadRequest(w, r, "username and password are required")
		return
	}

	ctx := r.Context()
	since := s.now().Add(-s.connectWindow)
	if req.Since != nil {
		since = *req.Since
	}

	csvText, err := s.fetcher.Fetch(ctx, devicepull.Request{
		Address:     req.Address,
		Username:    req.Username,
		Password:    req.Password,
		WindowStart: since,
	})
	if err != nil {
		s.logger.Warn("device connect failed",
			"address", req.Address, "code", devicepull.Code(err), "error", err)
		s.writeError(w, r, err)
		return
	}

	dev, created, err := s.devices.Register(ctx, device.Registration{
		Address:  req.Address,
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stats, err := s.ingester.Process(ctx, csvText, dev.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.devices.RecordPull(ctx, dev.ID, s.now(), true); err != nil {
		s.logger.Warn("recording pull outcome failed", "device_id", dev.ID, "error", err)
	} else if fresh, err := s.devices.GetDevice(ctx, dev.ID); err == nil {
		dev = fresh
	}

	s.logger.Info("device connected",
		"device_id", dev.ID,
		"serial", dev.Serial,
		"created", created,
		"processed_lines", stats.ProcessedLines,
		"sensors_created", stats.SensorsCreated,
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, connectResponse{Device: s.view(dev), Created: created, Stats: stats})
}

// handleUpdateDevice applies a partial settings update and brings the
// auto-pull task in line with it. Disabling auto-pull stops the task
// through the registry hook; enabling it or changing its schedule
// (re)starts the task, which pulls once before the response is written.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var settings device.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}

	ctx := r.Context()
	prev, err := s.devices.GetDevice(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dev, err := s.devices.UpdateSettings(ctx, id, settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if dev.CanAutoPull() && (!s.scheduler.IsTaskActive(id) || !prev.SameSchedule(dev)) {
		if _, err := s.scheduler.Start(ctx, id); err != nil {
			s.logger.Warn("restarting auto-pull failed", "device_id", id, "error", err)
		}
		if fresh, err := s.devices.GetDevice(ctx, id); err == nil {
			dev = fresh
		}
	}

	writeJSON(w, http.StatusOK, s.view(dev))
}

// handleDeleteDevice removes a device with its sensors and readings.
// The registry hook stops its task first.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePullDevice runs a one-shot pull with the stored credentials.
//
// Query parameters:
//   - since: RFC 3339 window start (default: now minus the device interval)
func (s *Server) handlePullDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, r, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	res, err := s.scheduler.PullNow(r.Context(), id, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUploadCSV ingests a CSV export posted as the raw request body.
func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := s.devices.GetDevice(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, Problem{
				Type:   ProblemValidation,
				Title:  "Payload too large",
				Status: http.StatusRequestEntityTooLarge,
				Detail: "CSV body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		writeBadRequest(w, r, "reading request body failed")
		return
	}

	stats, err := s.ingester.Process(ctx, string(body), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// deviceID parses the {id} URL parameter. On failure it writes a 400 and
// returns false.
func deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, r, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}
