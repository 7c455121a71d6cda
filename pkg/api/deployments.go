package api

import (
	"net/http"
	"strings"
)

type createDeploymentRequest struct {
	MachineID string   `json:"machine_id"`
	ImageID   string   `json:"image_id"`
	Eggs      []string `json:"eggs"`
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.manager.ListJobs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)

	case http.MethodPost:
		var req createDeploymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed deployment request")
			return
		}
		if req.MachineID == "" || req.ImageID == "" {
			writeError(w, http.StatusBadRequest, "invalid", "machine_id and image_id are required")
			return
		}

		job, err := s.orch.CreateDeployment(req.MachineID, req.ImageID, req.Eggs)
		if err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

func (s *Server) handleDeploymentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/deployments/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "job id required")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "cancel":
			s.handleDeploymentCancel(w, r, id)
			return
		case "retry":
			s.handleDeploymentRetry(w, r, id)
			return
		default:
			writeError(w, http.StatusNotFound, "not_found", "unknown deployment sub-route")
			return
		}
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
		return
	}

	job, err := s.manager.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeploymentCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}
	if err := s.orch.Cancel(id); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleDeploymentRetry re-creates a deployment for the same machine,
// image, and egg set as a failed job, since a job's own terminal state
// is never reopened in place.
func (s *Server) handleDeploymentRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	job, err := s.manager.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	newJob, err := s.orch.CreateDeployment(job.MachineID, job.ImageID, job.EggsToDeploy)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newJob)
}
