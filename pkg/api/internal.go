package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/fleetboot/pkg/blobstore"
	"github.com/cuemby/fleetboot/pkg/bootworker"
	"github.com/cuemby/fleetboot/pkg/types"
)

type bootScriptResponse struct {
	Script    string `json:"script"`
	MachineID string `json:"machine_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// handleBootScript implements GET /internal/boot-script/<mac>, resolving
// the caller's normalized MAC to a machine (or lack of one), its active
// job if deploying, and the bound boot image, then rendering through the
// same decision table a BootWorker would run locally.
func (s *Server) handleBootScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
		return
	}

	mac := bootworker.NormalizeMAC(strings.TrimPrefix(r.URL.Path, "/internal/boot-script/"))
	if mac == "" {
		writeError(w, http.StatusBadRequest, "invalid", "mac is required")
		return
	}

	ctx := bootworker.ScriptContext{BaseURL: ""}

	machine, err := s.manager.GetMachineByMAC(mac)
	if err != nil || machine == nil {
		writeJSON(w, http.StatusOK, bootScriptResponse{
			Script: bootworker.GenerateScript(ctx),
			Status: "unknown",
		})
		return
	}
	ctx.Machine = machine

	if machine.Status == types.MachineDeploying {
		jobs, err := s.manager.ListJobsByMachine(machine.SystemID)
		if err == nil {
			for _, j := range jobs {
				if j.Status != types.JobComplete && j.Status != types.JobFailed {
					ctx.Job = j
					break
				}
			}
		}
	}

	imageID := machine.BootConfigID
	if ctx.Job != nil {
		imageID = ctx.Job.ImageID
	}
	if imageID != "" {
		if bc, err := s.manager.GetBootConfig(imageID); err == nil && bc != nil {
			if img, err := s.manager.GetBootImage(bc.ImageID); err == nil {
				ctx.BootImage = img
			}
		} else if img, err := s.manager.GetBootImage(imageID); err == nil {
			ctx.BootImage = img
		}
	}

	writeJSON(w, http.StatusOK, bootScriptResponse{
		Script:    bootworker.GenerateScript(ctx),
		MachineID: machine.SystemID,
		Status:    string(machine.Status),
	})
}

// handleCloudInit implements GET /internal/cloud-init/<machine_id>/<part>,
// serving the meta-data/user-data pair for a machine's active deployment
// job. meta-data is synthesized; user-data is the job's rendered egg
// output produced at deployment creation time.
func (s *Server) handleCloudInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/internal/cloud-init/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "machine id and part are required")
		return
	}
	machineID, part := parts[0], parts[1]

	switch part {
	case "meta-data":
		w.Header().Set("Content-Type", "text/yaml")
		fmt.Fprintf(w, "instance-id: %s\nlocal-hostname: %s\n", machineID, machineID)
		return
	case "user-data":
		jobs, err := s.manager.ListJobsByMachine(machineID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		var active *types.DeploymentJob
		for _, j := range jobs {
			if j.Status != types.JobComplete && j.Status != types.JobFailed {
				active = j
				break
			}
		}
		if active == nil || active.RenderedCloudInit == "" {
			writeError(w, http.StatusNotFound, "not_found", "no active deployment for this machine")
			return
		}
		w.Header().Set("Content-Type", "text/cloud-config")
		fmt.Fprint(w, active.RenderedCloudInit)
		return
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown cloud-init part")
	}
}

type imageURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// handleImageURL implements GET /internal/image-url/<path>, returning a
// presigned, time-boxed URL into the blob store for a BootWorker to
// stream a kernel/initrd/squashfs image through.
func (s *Server) handleImageURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/internal/image-url/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid", "image path is required")
		return
	}

	const ttl = 15 * time.Minute
	url, _, err := s.blobs.Presign("images", key, blobstore.MethodGET, ttl)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, imageURLResponse{URL: url, ExpiresIn: int(ttl.Seconds())})
}

type bootEventRequest struct {
	MAC       string `json:"mac"`
	IP        string `json:"ip,omitempty"`
	EventType string `json:"event_type"`
	Details   string `json:"details,omitempty"`
}

// handleBootEvent implements POST /internal/boot-event, persisting a
// BootWorker-observed milestone for audit and status-transition purposes.
func (s *Server) handleBootEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid", "POST required")
		return
	}

	var req bootEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "malformed boot event")
		return
	}
	if req.MAC == "" || req.EventType == "" {
		writeError(w, http.StatusBadRequest, "invalid", "mac and event_type are required")
		return
	}

	mac := bootworker.NormalizeMAC(req.MAC)
	event := &types.BootEvent{
		MAC:       mac,
		IP:        req.IP,
		EventType: types.BootEventType(req.EventType),
		Details:   req.Details,
		Timestamp: time.Now(),
	}
	if machine, err := s.manager.GetMachineByMAC(mac); err == nil && machine != nil {
		event.MachineID = machine.SystemID
	}

	if err := s.manager.PublishBootEvent(event); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
