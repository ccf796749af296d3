package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mattn/go-sqlite3"

	"github.com/nomanocra/SmartConnectServer/internal/autopull"
	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
	"github.com/nomanocra/SmartConnectServer/internal/sensor"
)

// Problem is an RFC 7807 error response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// DeviceCode is set when the failure came from a boitier.
	DeviceCode int    `json:"deviceCode,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// Problem types.
const (
	ProblemValidation = "/problems/validation-error"
	ProblemDevice     = "/problems/device-error"
	ProblemNotFound   = "/problems/not-found-error"
	ProblemDatabase   = "/problems/database-error"
	ProblemInternal   = "/problems/internal-error"
)

const problemContentType = "application/problem+json"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeProblem writes p as application/problem+json.
func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.Instance = r.URL.Path
	p.RequestID = requestID(r)

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(p)
}

// writeBadRequest writes a 400 validation problem.
func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, Problem{
		Type:   ProblemValidation,
		Title:  "Validation failed",
		Status: http.StatusBadRequest,
		Detail: detail,
	})
}

// writeNotFound writes a 404 problem.
func writeNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, Problem{
		Type:   ProblemNotFound,
		Title:  "Resource not found",
		Status: http.StatusNotFound,
		Detail: detail,
	})
}

// writeInternalError writes a 500 problem.
func writeInternalError(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, Problem{
		Type:   ProblemInternal,
		Title:  "Internal error",
		Status: http.StatusInternalServerError,
		Detail: detail,
	})
}

// writeError maps a domain error to its problem type. Storage and
// unexpected errors are logged and their detail is not sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var devErr *devicepull.DeviceError
	switch {
	case errors.As(err, &devErr):
		writeProblem(w, r, Problem{
			Type:       ProblemDevice,
			Title:      "Device request failed",
			Status:     deviceStatus(devErr.Code),
			Detail:     devErr.Error(),
			DeviceCode: devErr.Code,
		})

	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, sensor.ErrSensorNotFound):
		writeNotFound(w, r, err.Error())

	case device.IsValidation(err),
		errors.Is(err, device.ErrMissingCredentials),
		errors.Is(err, ingest.ErrMissingColumn):
		writeBadRequest(w, r, err.Error())

	case errors.Is(err, device.ErrDeviceExists):
		writeProblem(w, r, Problem{
			Type:   ProblemValidation,
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: err.Error(),
		})

	case errors.Is(err, autopull.ErrTaskStopped):
		writeProblem(w, r, Problem{
			Type:   ProblemInternal,
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: "auto-pull task was stopped or replaced while starting",
		})

	case errors.Is(err, autopull.ErrSchedulerClosed):
		writeProblem(w, r, Problem{
			Type:   ProblemInternal,
			Title:  "Service shutting down",
			Status: http.StatusServiceUnavailable,
			Detail: err.Error(),
		})

	case isDatabaseError(err):
		s.logger.Error("storage failure", "error", err, "path", r.URL.Path, "request_id", requestID(r))
		writeProblem(w, r, Problem{
			Type:   ProblemDatabase,
			Title:  "Storage failure",
			Status: http.StatusInternalServerError,
			Detail: "the storage operation failed",
		})

	default:
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestID(r))
		writeInternalError(w, r, "internal server error")
	}
}

// deviceStatus returns the HTTP status for a device error code.
func deviceStatus(code int) int {
	if code >= 400 && code < 600 {
		return code
	}
	return http.StatusBadGateway
}

func isDatabaseError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.Is(err, ingest.ErrStorage) ||
		errors.As(err, &sqliteErr) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone)
}
