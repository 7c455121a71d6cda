package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/fleetboot/pkg/agent"
	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/google/uuid"
)

// generateEnrollmentSecret mints a random enrollment key and its stored
// hash, mirroring the agent package's own token/hash convention so a key
// redeemed later hashes to the same value CreateEnrollmentKey persisted.
func generateEnrollmentSecret() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", ferrors.Wrap(ferrors.Transient, "key_generation_failed", err)
	}
	raw = hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(raw))
	return raw, hex.EncodeToString(sum[:]), nil
}

type createEnrollmentKeyRequest struct {
	SingleUse bool `json:"single_use"`
	TTLHours  int  `json:"ttl_hours"`
}

type createEnrollmentKeyResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleCreateEnrollmentKey mints a new enrollment key and returns the
// raw, unhashed value exactly once; only the hash is ever persisted.
func (s *Server) handleCreateEnrollmentKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req createEnrollmentKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	ttl := time.Duration(req.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	raw, keyHash, err := generateEnrollmentSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to generate enrollment key")
		return
	}

	key := &types.EnrollmentKey{
		ID:        uuid.New().String(),
		KeyHash:   keyHash,
		SingleUse: req.SingleUse,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := s.manager.CreateEnrollmentKey(key); err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createEnrollmentKeyResponse{
		ID:        key.ID,
		Key:       raw,
		ExpiresAt: key.ExpiresAt,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
		return
	}

	agents, err := s.manager.ListAgents()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := agents[:0]
		for _, a := range agents {
			if string(a.Status) == status {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}

	writeJSON(w, http.StatusOK, agents)
}

// handleAgentSuspend implements POST /agents/<id>/suspend.
func (s *Server) handleAgentSuspend(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "suspend" {
		writeError(w, http.StatusNotFound, "not_found", "unknown agent sub-route")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)

	if err := s.agents.Suspend(parts[0], req.Reason); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (s *Server) handleAgentEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req agent.EnrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed enroll request")
		return
	}

	result, err := s.agents.Enroll(req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req agent.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed heartbeat request")
		return
	}

	result, err := s.agents.Heartbeat(req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgentTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req agent.RefreshTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed refresh request")
		return
	}

	result, err := s.agents.RefreshToken(req)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
