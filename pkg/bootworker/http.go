package bootworker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/rs/zerolog"
)

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// HTTPConfig configures the BootWorker's own HTTP surface, the only one a
// booted iPXE client or cloud-init instance ever talks to directly.
type HTTPConfig struct {
	ListenAddr     string
	BaseURL        string
	RequestTimeout time.Duration
}

// HTTPServer exposes the worker-facing routes. Every handler either
// proxies to Control through client, or falls back to a local, harmless
// response (an iPXE script that drops to the shell) rather than ever hanging a
// booting machine on a Control outage.
type HTTPServer struct {
	cfg    HTTPConfig
	client *ControlClient
	logger zerolog.Logger
	srv    *http.Server
}

// NewHTTPServer constructs an HTTPServer without starting it.
func NewHTTPServer(cfg HTTPConfig, client *ControlClient, logger zerolog.Logger) *HTTPServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &HTTPServer{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Handler builds the mux so tests can drive it via httptest without
// binding a real socket.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipxe/", h.handleIPXE)
	mux.HandleFunc("/cloud-init/", h.handleCloudInit)
	mux.HandleFunc("/images/", h.handleImage)
	mux.HandleFunc("/boot-event", h.handleBootEvent)
	return mux
}

// Start binds ListenAddr and serves in the background.
func (h *HTTPServer) Start() error {
	h.srv = &http.Server{
		Addr:    h.cfg.ListenAddr,
		Handler: h.Handler(),
	}
	h.logger.Info().Str("addr", h.cfg.ListenAddr).Msg("starting http service")
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP listener down.
func (h *HTTPServer) Stop() error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Close()
}

// handleIPXE serves /ipxe/<mac>.ipxe by round-tripping to Control's
// boot-script endpoint. Any failure, a missing script (404) as much as an
// unreachable Control, degrades to an error script that drops the client
// to the iPXE shell rather than failing the request; this handler never
// serves a discovery script of its own.
func (h *HTTPServer) handleIPXE(w http.ResponseWriter, r *http.Request) {
	mac := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ipxe/"), ".ipxe")
	mac = NormalizeMAC(mac)

	ctx, cancel := withTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	resp, err := h.client.FetchBootScript(ctx, mac)
	if err != nil {
		h.logger.Warn().Err(err).Str("mac", mac).Msg("falling back to shell script")
		writeIPXE(w, errorScript("control unreachable; retry shortly"))
		return
	}

	writeIPXE(w, resp.Script)
}

func writeIPXE(w http.ResponseWriter, script string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, script)
}

// handleCloudInit serves /cloud-init/<machine_id>/{meta-data,user-data} as
// a verbatim passthrough of Control's internal endpoint.
func (h *HTTPServer) handleCloudInit(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cloud-init/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || (parts[1] != "meta-data" && parts[1] != "user-data") {
		http.NotFound(w, r)
		return
	}
	machineID, part := parts[0], parts[1]

	ctx, cancel := withTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	data, contentType, err := h.client.FetchCloudInit(ctx, machineID, part)
	if err != nil {
		h.logger.Warn().Err(err).Str("machine_id", machineID).Str("part", part).Msg("cloud-init fetch failed")
		http.Error(w, "cloud-init unavailable", http.StatusBadGateway)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	} else {
		w.Header().Set("Content-Type", "text/plain")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImage serves /images/<path> by requesting a presigned URL from
// Control and redirecting to it. Storage credentials never reach this
// process or the booting client.
func (h *HTTPServer) handleImage(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/images/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	urlResp, err := h.client.FetchImageURL(ctx, path)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("image url fetch failed")
		http.Error(w, "image unavailable", http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, urlResp.URL, http.StatusFound)
}

// bootEventRequest is what a booting machine posts directly to the
// worker, in contrast to BootEventPayload, which the worker then
// forwards on to Control with its own authentication.
type bootEventRequest struct {
	MAC       string `json:"mac"`
	EventType string `json:"event_type"`
	Details   string `json:"details,omitempty"`
}

func (h *HTTPServer) handleBootEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bootEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MAC == "" || req.EventType == "" {
		http.Error(w, "mac and event_type are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	peerIP := clientIP(r)
	err := h.client.PostBootEvent(ctx, BootEventPayload{
		MAC:       NormalizeMAC(req.MAC),
		IP:        peerIP,
		EventType: req.EventType,
		Details:   req.Details,
	})
	if err != nil {
		if ferrors.CodeOf(err) == ferrors.Transient {
			http.Error(w, "control unreachable", http.StatusBadGateway)
			return
		}
		http.Error(w, "rejected", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
