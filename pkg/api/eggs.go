package api

import (
	"net/http"
	"strings"

	"github.com/cuemby/fleetboot/pkg/types"
)

func (s *Server) handleEggs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		eggs, err := s.manager.ListEggs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, eggs)

	case http.MethodPost:
		var eg types.Egg
		if err := decodeJSON(r, &eg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed egg body")
			return
		}
		if eg.ID == "" || eg.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid", "id and name are required")
			return
		}
		if err := s.manager.CreateEgg(&eg); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, eg)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

func (s *Server) handleEggByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/eggs/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "egg id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		eg, err := s.manager.GetEgg(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "egg not found")
			return
		}
		writeJSON(w, http.StatusOK, eg)

	case http.MethodPut:
		var eg types.Egg
		if err := decodeJSON(r, &eg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed egg body")
			return
		}
		eg.ID = id
		if err := s.manager.UpdateEgg(&eg); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, eg)

	case http.MethodDelete:
		if err := s.manager.DeleteEgg(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

func (s *Server) handleEggGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := s.manager.ListEggGroups()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, groups)

	case http.MethodPost:
		var g types.EggGroup
		if err := decodeJSON(r, &g); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed egg group body")
			return
		}
		if g.ID == "" || g.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid", "id and name are required")
			return
		}
		if err := s.manager.CreateEggGroup(&g); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

func (s *Server) handleEggGroupByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/egg-groups/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "egg group id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g, err := s.manager.GetEggGroup(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "egg group not found")
			return
		}
		writeJSON(w, http.StatusOK, g)

	case http.MethodPut:
		var g types.EggGroup
		if err := decodeJSON(r, &g); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed egg group body")
			return
		}
		g.ID = id
		if err := s.manager.UpdateEggGroup(&g); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)

	case http.MethodDelete:
		if err := s.manager.DeleteEggGroup(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

type renderEggsRequest struct {
	EggRefs   []string `json:"eggs,omitempty"`
	GroupID   string   `json:"group_id,omitempty"`
	MachineID string   `json:"machine_id"`
}

type renderEggsResponse struct {
	CloudInit string `json:"cloud_init"`
}

// handleEggsRender resolves and merges the requested eggs or group
// against the named machine's attributes, returning the merged
// cloud-init document without creating any deployment.
func (s *Server) handleEggsRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req renderEggsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed render request")
		return
	}

	machine, err := s.manager.GetMachine(req.MachineID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "machine not found")
		return
	}

	var resolved []*types.Egg
	if req.GroupID != "" {
		group, err := s.manager.GetEggGroup(req.GroupID)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "egg group not found")
			return
		}
		resolved, err = s.eggs.ResolveGroup(group, machine)
		if err != nil {
			writeClassifiedError(w, err)
			return
		}
	} else {
		resolved, err = s.eggs.Resolve(req.EggRefs, machine)
		if err != nil {
			writeClassifiedError(w, err)
			return
		}
	}

	rendered, err := s.eggs.RenderCloudInit(resolved)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, renderEggsResponse{CloudInit: rendered})
}
