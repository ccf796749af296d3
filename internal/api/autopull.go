package api

import (
	"net/http"

	"github.com/nomanocra/SmartConnectServer/internal/autopull"
)

// handleAutoPullStatus returns the task state of one device. A device
// without a task reports isRunning false.
func (s *Server) handleAutoPullStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	if _, err := s.devices.GetDevice(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	status, active := s.scheduler.TaskStatus(id)
	if !active {
		status = autopull.TaskStatus{DeviceID: id}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStartAutoPull (re)starts the task of a device. The first pull runs
// before the response; its failure does not prevent the start.
func (s *Server) handleStartAutoPull(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	started, err := s.scheduler.Start(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !started {
		writeBadRequest(w, r, "auto-pull is disabled or pull credentials are missing")
		return
	}

	status, _ := s.scheduler.TaskStatus(id)
	writeJSON(w, http.StatusOK, status)
}

// handleStopAutoPull stops the task of a device. Stopping a device
// without a task is not an error.
func (s *Server) handleStopAutoPull(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	stopped := s.scheduler.Stop(id)
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": id, "stopped": stopped})
}

// handleAutoPullOverview returns every active task.
func (s *Server) handleAutoPullOverview(w http.ResponseWriter, _ *http.Request) {
	tasks := s.scheduler.TasksStatus()
	if tasks == nil {
		tasks = []autopull.TaskStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "active": len(tasks)})
}
