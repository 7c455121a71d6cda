package api

import (
	"net/http"

	"github.com/cuemby/fleetboot/pkg/agent"
	"golang.org/x/crypto/ssh"
)

type signShellRequest struct {
	UserEmail       string   `json:"user_email"`
	UserPublicKey   string   `json:"user_public_key"`
	Principals      []string `json:"principals"`
	ValiditySeconds int64    `json:"validity_seconds"`
	ResourceType    string   `json:"resource_type"`
	ResourceID      string   `json:"resource_id"`
}

type signShellResponse struct {
	Certificate string `json:"certificate"`
	KeyID       string `json:"key_id"`
}

// handleShellCASign signs a short-lived SSH certificate for an operator
// holding shell capability on the requested resource, returning it in
// OpenSSH authorized-key wire format. Team membership is never read from
// the request body: agent.ShellSigner.Sign looks up which teams
// req.UserEmail actually belongs to against server-side team state, so a
// caller cannot claim membership in a team it is not a member of.
func (s *Server) handleShellCASign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req signShellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed sign request")
		return
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.UserPublicKey))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed public key")
		return
	}

	result, err := s.shellSigner.Sign(agent.SignShellRequest{
		UserEmail:       req.UserEmail,
		UserPublicKey:   pub,
		Principals:      req.Principals,
		ValiditySeconds: req.ValiditySeconds,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
	})
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signShellResponse{
		Certificate: string(ssh.MarshalAuthorizedKey(result.Certificate)),
		KeyID:       result.KeyID,
	})
}
