// Package api implements Control's HTTP JSON surface: admin/operator
// routes for machines, deployments, and eggs; the agent and worker
// enrollment/heartbeat protocols; the internal routes a BootWorker calls
// on behalf of a booting machine; and SSH certificate issuance. Every
// handler is a thin adapter over pkg/manager, pkg/orchestrator,
// pkg/agent, pkg/egg, and pkg/blobstore — this package owns no domain
// state of its own.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/fleetboot/pkg/agent"
	"github.com/cuemby/fleetboot/pkg/blobstore"
	"github.com/cuemby/fleetboot/pkg/egg"
	"github.com/cuemby/fleetboot/pkg/log"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/orchestrator"
	"github.com/rs/zerolog"
)

// Config holds the HTTP server's own settings, distinct from the domain
// configuration owned by the services it wraps.
type Config struct {
	ListenAddr string
	// AdminToken gates every admin/operator route. A production
	// deployment rotates this via Secrets; it is a bootstrap value here.
	AdminToken string
	// WorkerSharedKey is the shared secret a BootWorker presents at
	// POST /workers/enroll.
	WorkerSharedKey string
}

// Server is Control's HTTP API.
type Server struct {
	cfg         Config
	manager     *manager.Manager
	orch        *orchestrator.Orchestrator
	agents      *agent.Service
	shellSigner *agent.ShellSigner
	eggs        *egg.Engine
	blobs       blobstore.Store
	logger      zerolog.Logger

	httpSrv *http.Server
}

// NewServer wires every dependency together. It registers no routes
// until Handler or Start is called.
func NewServer(
	cfg Config,
	mgr *manager.Manager,
	orch *orchestrator.Orchestrator,
	agents *agent.Service,
	shellSigner *agent.ShellSigner,
	eggs *egg.Engine,
	blobs blobstore.Store,
) *Server {
	return &Server{
		cfg:         cfg,
		manager:     mgr,
		orch:        orch,
		agents:      agents,
		shellSigner: shellSigner,
		eggs:        eggs,
		blobs:       blobs,
		logger:      log.WithComponent("api"),
	}
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive it with httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Admin/operator routes.
	mux.HandleFunc("/v1/admin/raft/join", s.handleRaftJoin)
	mux.HandleFunc("/v1/admin/raft/join-token", s.requireAdmin(s.handleRaftJoinToken))
	mux.HandleFunc("/v1/admin/raft/join-tokens", s.requireAdmin(s.handleListJoinTokens))
	mux.HandleFunc("/v1/admin/raft/join-token/revoke", s.requireAdmin(s.handleRevokeJoinToken))
	mux.HandleFunc("/machines", s.requireAdmin(s.handleMachines))
	mux.HandleFunc("/machines/", s.requireAdmin(s.handleMachineByID))
	mux.HandleFunc("/deployments", s.requireAdmin(s.handleDeployments))
	mux.HandleFunc("/deployments/", s.requireAdmin(s.handleDeploymentByID))
	mux.HandleFunc("/eggs", s.requireAdmin(s.handleEggs))
	mux.HandleFunc("/eggs/render", s.requireAdmin(s.handleEggsRender))
	mux.HandleFunc("/eggs/", s.requireAdmin(s.handleEggByID))
	mux.HandleFunc("/egg-groups", s.requireAdmin(s.handleEggGroups))
	mux.HandleFunc("/egg-groups/", s.requireAdmin(s.handleEggGroupByID))
	mux.HandleFunc("/agents/enrollment-keys", s.requireAdmin(s.handleCreateEnrollmentKey))
	mux.HandleFunc("/agents", s.requireAdmin(s.handleListAgents))
	mux.HandleFunc("/ssh-ca/sign", s.requireAdmin(s.handleShellCASign))

	// Agent protocol. Enroll/heartbeat/refresh authenticate themselves
	// via the enrollment key or agent token carried in the body, not a
	// bearer header, since the agent has no admin token.
	mux.HandleFunc("/agents/enroll", s.handleAgentEnroll)
	mux.HandleFunc("/agents/heartbeat", s.handleAgentHeartbeat)
	mux.HandleFunc("/agents/token/refresh", s.handleAgentTokenRefresh)
	mux.HandleFunc("/agents/", s.requireAdmin(s.handleAgentSuspend))

	// Worker protocol.
	mux.HandleFunc("/workers/enroll", s.handleWorkerEnroll)
	mux.HandleFunc("/workers/heartbeat", s.handleWorkerHeartbeat)

	// Internal routes, authenticated by worker session token.
	mux.HandleFunc("/internal/boot-script/", s.requireWorker(s.handleBootScript))
	mux.HandleFunc("/internal/cloud-init/", s.requireWorker(s.handleCloudInit))
	mux.HandleFunc("/internal/image-url/", s.requireWorker(s.handleImageURL))
	mux.HandleFunc("/internal/boot-event", s.requireWorker(s.handleBootEvent))

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

// Start binds ListenAddr and serves until Stop is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("starting control api")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the API server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleRaftJoin adds a voter to the Raft cluster. It accepts either
// an operator's admin bearer token (fleetctl's cluster join-voter command)
// or a join token minted by GenerateJoinToken and carried in the body's
// "token" field (a Control node's own Manager.Join bootstrap, which has
// no admin token to present). bind_addr is accepted as an alias of
// address since Manager.Join posts its own bind address under that name.
func (s *Server) handleRaftJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req struct {
		NodeID   string `json:"node_id"`
		Address  string `json:"address"`
		BindAddr string `json:"bind_addr"`
		Token    string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	if bearerToken(r) != s.cfg.AdminToken || s.cfg.AdminToken == "" {
		if req.Token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin bearer token or join token required")
			return
		}
		if _, err := s.manager.ValidateJoinToken(req.Token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired join token")
			return
		}
	}

	addr := req.Address
	if addr == "" {
		addr = req.BindAddr
	}
	if err := s.manager.AddVoter(req.NodeID, addr); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if req.Token != "" {
		s.manager.RevokeJoinToken(req.Token)
	}

	// The joining node has no CA of its own yet; issue it an mTLS
	// certificate here so it can stand up its own Raft TLS transport
	// before its first RPC to this node.
	cert, err := s.manager.IssueCertificate(req.NodeID, "control")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to issue node certificate: "+err.Error())
		return
	}
	certPEM, keyPEM, err := s.manager.CertToPEM(cert)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to encode node certificate: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		CACertPEM   string `json:"ca_cert_pem"`
		NodeCertPEM string `json:"node_cert_pem"`
		NodeKeyPEM  string `json:"node_key_pem"`
	}{
		Status:      "joined",
		CACertPEM:   string(s.manager.GetCACertPEM()),
		NodeCertPEM: string(certPEM),
		NodeKeyPEM:  string(keyPEM),
	})
}

// handleRaftJoinToken mints a join token a new Control node presents to
// Manager.Join, authenticated by the issuing operator's admin token
// rather than by the new node (which has no token yet).
func (s *Server) handleRaftJoinToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	if req.Role == "" {
		req.Role = "voter"
	}

	tok, err := s.manager.GenerateJoinToken(req.Role)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      tok.Token,
		"role":       tok.Role,
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	})
}

// handleListJoinTokens lets an operator audit outstanding join tokens,
// e.g. to find one that was minted but never redeemed.
func (s *Server) handleListJoinTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "GET required")
		return
	}

	tokens := s.manager.ListJoinTokens()
	resp := make([]map[string]string, 0, len(tokens))
	for _, tok := range tokens {
		resp = append(resp, map[string]string{
			"token":      tok.Token,
			"role":       tok.Role,
			"created_at": tok.CreatedAt.Format(time.RFC3339),
			"expires_at": tok.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevokeJoinToken invalidates a join token an operator minted by
// mistake, before a node ever redeems it.
func (s *Server) handleRevokeJoinToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid", "token is required")
		return
	}

	s.manager.RevokeJoinToken(req.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
