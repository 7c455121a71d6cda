package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
)

type workerEnrollRequest struct {
	WorkerID     string   `json:"worker_id"`
	Site         string   `json:"site"`
	Interface    string   `json:"interface"`
	DHCPMode     string   `json:"dhcp_mode"`
	Capabilities []string `json:"capabilities"`
	SharedKey    string   `json:"shared_key"`
}

type workerEnrollResponse struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token"`
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", ferrors.Wrap(ferrors.Transient, "token_generation_failed", err)
	}
	return hex.EncodeToString(buf), nil
}

// handleWorkerEnroll validates a BootWorker's shared key and issues (or
// rotates) a session token for its worker record, creating one on first
// contact.
func (s *Server) handleWorkerEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req workerEnrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed enroll request")
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "invalid", "worker_id is required")
		return
	}
	if s.cfg.WorkerSharedKey == "" || req.SharedKey != s.cfg.WorkerSharedKey {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid shared key")
		return
	}

	token, err := newSessionToken()
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	now := time.Now()
	existing, err := s.manager.GetWorker(req.WorkerID)
	if err == nil && existing != nil {
		existing.Site = req.Site
		existing.Interface = req.Interface
		existing.DHCPMode = req.DHCPMode
		existing.Capabilities = req.Capabilities
		existing.SessionToken = token
		existing.Suspect = false
		existing.MissedHeartbeats = 0
		existing.LastHeartbeatAt = now
		existing.UpdatedAt = now
		if err := s.manager.UpdateWorker(existing); err != nil {
			writeClassifiedError(w, err)
			return
		}
	} else {
		worker := &types.Worker{
			WorkerID:        req.WorkerID,
			Site:            req.Site,
			Interface:       req.Interface,
			DHCPMode:        req.DHCPMode,
			Capabilities:    req.Capabilities,
			SessionToken:    token,
			LastHeartbeatAt: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.manager.CreateWorker(worker); err != nil {
			writeClassifiedError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, workerEnrollResponse{WorkerID: req.WorkerID, SessionToken: token})
}

type workerHeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type workerHeartbeatResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	SessionToken string `json:"session_token,omitempty"`
}

// handleWorkerHeartbeat refreshes a worker's liveness and clears its
// suspect flag. It does not rotate the session token: the response's
// session_token is always left empty and the enrolled token stays valid.
func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req workerHeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed heartbeat request")
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "invalid", "worker_id is required")
		return
	}

	worker, err := s.manager.GetWorker(req.WorkerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "worker is not enrolled")
		return
	}

	worker.LastHeartbeatAt = time.Now()
	worker.MissedHeartbeats = 0
	worker.Suspect = false
	worker.UpdatedAt = time.Now()
	if err := s.manager.UpdateWorker(worker); err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workerHeartbeatResponse{Acknowledged: true})
}
