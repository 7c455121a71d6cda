package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/cuemby/fleetboot/pkg/types"
)

type workerContextKey struct{}

// workerFromContext returns the authenticated worker set by requireWorker.
func workerFromContext(ctx context.Context) *types.Worker {
	w, _ := ctx.Value(workerContextKey{}).(*types.Worker)
	return w
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" if absent or malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// requireAdmin gates handlers that only the admin/user token may call.
// The admin token is a single shared secret configured at startup,
// matching the teacher's own join-token-style bootstrap secret rather
// than a full user-identity system, which is out of scope here.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" || bearerToken(r) != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "valid admin bearer token required")
			return
		}
		next(w, r)
	}
}

// requireWorker gates the /internal/* routes to a worker carrying a
// session token that matches a known, non-suspect Worker record.
func (s *Server) requireWorker(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "worker session token required")
			return
		}

		workers, err := s.manager.ListWorkers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to verify worker session")
			return
		}

		for _, wk := range workers {
			if wk.SessionToken != "" && wk.SessionToken == token && !wk.Suspect {
				ctx := context.WithValue(r.Context(), workerContextKey{}, wk)
				next(w, r.WithContext(ctx))
				return
			}
		}

		writeError(w, http.StatusUnauthorized, "unauthorized", "unrecognized worker session token")
	}
}
