package api

import (
	"net/http"
	"strings"

	"github.com/cuemby/fleetboot/pkg/types"
)

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		machines, err := s.manager.ListMachines()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, machines)

	case http.MethodPost:
		var m types.Machine
		if err := decodeJSON(r, &m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed machine body")
			return
		}
		if m.SystemID == "" || m.MACAddress == "" {
			writeError(w, http.StatusBadRequest, "invalid", "system_id and mac_address are required")
			return
		}
		if m.Status == "" {
			m.Status = types.MachineUnknown
		}
		if err := s.manager.CreateMachine(&m); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

func (s *Server) handleMachineByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/machines/")
	if path == "" {
		writeError(w, http.StatusNotFound, "not_found", "machine id required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/reimage"); ok {
		s.handleMachineReimage(w, r, id)
		return
	}
	id := path

	switch r.Method {
	case http.MethodGet:
		m, err := s.manager.GetMachine(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "machine not found")
			return
		}
		writeJSON(w, http.StatusOK, m)

	case http.MethodDelete:
		if err := s.manager.DeleteMachine(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodPut:
		var patch types.Machine
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "malformed machine body")
			return
		}
		patch.SystemID = id
		if err := s.manager.UpdateMachine(&patch); err != nil {
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, patch)

	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
	}
}

// handleMachineReimage flags a deployed machine to chain back into the PXE
// install flow on its next boot instead of its installed OS, per
// GenerateScript's MachineDeployed case in pkg/bootworker/ipxe.go. The
// orchestrator clears the flag once the machine re-enters
// MachineDeploying, so it only ever triggers one re-image.
func (s *Server) handleMachineReimage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	m, err := s.manager.GetMachine(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "machine not found")
		return
	}
	if m.Status != types.MachineDeployed {
		writeError(w, http.StatusConflict, "invalid", "only a deployed machine can be re-imaged")
		return
	}

	m.ReimageRequested = true
	if err := s.manager.UpdateMachine(m); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
