// Package client implements the admin CLI's HTTP client library against
// Control's JSON API (pkg/api). Every method is a thin wrapper over one
// endpoint: build a request, decode a response, translate a non-2xx
// status into an error carrying the server's {error, message} body.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetboot/pkg/types"
)

// DefaultTimeout bounds every request issued by a Client; methods take no
// context of their own.
const DefaultTimeout = 10 * time.Second

// Client is a thin HTTP wrapper around Control's admin API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client addressing baseURL ("http://host:port") and
// authenticating every request with the given admin/operator token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-2xx response, carrying the server's
// classified error code alongside its HTTP status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultTimeout)
}

// ListMachines returns every registered machine.
func (c *Client) ListMachines() ([]*types.Machine, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out []*types.Machine
	return out, c.do(ctx, http.MethodGet, "/machines", nil, &out)
}

// GetMachine fetches one machine by system ID.
func (c *Client) GetMachine(systemID string) (*types.Machine, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.Machine
	return &out, c.do(ctx, http.MethodGet, "/machines/"+systemID, nil, &out)
}

// CreateMachine registers a new machine.
func (c *Client) CreateMachine(m *types.Machine) (*types.Machine, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.Machine
	return &out, c.do(ctx, http.MethodPost, "/machines", m, &out)
}

// UpdateMachine applies patch to an existing machine.
func (c *Client) UpdateMachine(systemID string, patch *types.Machine) (*types.Machine, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.Machine
	return &out, c.do(ctx, http.MethodPut, "/machines/"+systemID, patch, &out)
}

// DeleteMachine removes a machine by system ID.
func (c *Client) DeleteMachine(systemID string) error {
	ctx, cancel := c.requestCtx()
	defer cancel()
	return c.do(ctx, http.MethodDelete, "/machines/"+systemID, nil, nil)
}

// ListDeployments returns every deployment job.
func (c *Client) ListDeployments() ([]*types.DeploymentJob, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out []*types.DeploymentJob
	return out, c.do(ctx, http.MethodGet, "/deployments", nil, &out)
}

// GetDeployment fetches one deployment job by ID.
func (c *Client) GetDeployment(jobID string) (*types.DeploymentJob, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.DeploymentJob
	return &out, c.do(ctx, http.MethodGet, "/deployments/"+jobID, nil, &out)
}

// CreateDeployment starts a new deployment of image onto machine,
// applying eggRefs in order.
func (c *Client) CreateDeployment(machineID, imageID string, eggRefs []string) (*types.DeploymentJob, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]interface{}{
		"machine_id": machineID,
		"image_id":   imageID,
		"eggs":       eggRefs,
	}
	var out types.DeploymentJob
	return &out, c.do(ctx, http.MethodPost, "/deployments", req, &out)
}

// CancelDeployment requests cancellation of an in-flight job.
func (c *Client) CancelDeployment(jobID string) error {
	ctx, cancel := c.requestCtx()
	defer cancel()
	return c.do(ctx, http.MethodPost, "/deployments/"+jobID+"/cancel", nil, nil)
}

// RetryDeployment re-creates a deployment for a failed job's
// machine/image/egg set.
func (c *Client) RetryDeployment(jobID string) (*types.DeploymentJob, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.DeploymentJob
	return &out, c.do(ctx, http.MethodPost, "/deployments/"+jobID+"/retry", nil, &out)
}

// ListEggs returns every registered egg.
func (c *Client) ListEggs() ([]*types.Egg, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out []*types.Egg
	return out, c.do(ctx, http.MethodGet, "/eggs", nil, &out)
}

// CreateEgg registers a new egg.
func (c *Client) CreateEgg(eg *types.Egg) (*types.Egg, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.Egg
	return &out, c.do(ctx, http.MethodPost, "/eggs", eg, &out)
}

// DeleteEgg removes an egg by ID.
func (c *Client) DeleteEgg(id string) error {
	ctx, cancel := c.requestCtx()
	defer cancel()
	return c.do(ctx, http.MethodDelete, "/eggs/"+id, nil, nil)
}

// ListEggGroups returns every registered egg group.
func (c *Client) ListEggGroups() ([]*types.EggGroup, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out []*types.EggGroup
	return out, c.do(ctx, http.MethodGet, "/egg-groups", nil, &out)
}

// CreateEggGroup registers a new egg group.
func (c *Client) CreateEggGroup(g *types.EggGroup) (*types.EggGroup, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out types.EggGroup
	return &out, c.do(ctx, http.MethodPost, "/egg-groups", g, &out)
}

// RenderEggs previews the merged cloud-init document eggRefs (or group)
// would produce against machineID, without creating a deployment.
func (c *Client) RenderEggs(machineID, groupID string, eggRefs []string) (string, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]interface{}{
		"machine_id": machineID,
		"group_id":   groupID,
		"eggs":       eggRefs,
	}
	var out struct {
		CloudInit string `json:"cloud_init"`
	}
	return out.CloudInit, c.do(ctx, http.MethodPost, "/eggs/render", req, &out)
}

// CreateEnrollmentKey mints a new agent enrollment key. The raw key is
// only ever returned here; only its hash is persisted server-side.
func (c *Client) CreateEnrollmentKey(singleUse bool, ttl time.Duration) (id, key string, expiresAt time.Time, err error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]interface{}{
		"single_use": singleUse,
		"ttl_hours":  int(ttl.Hours()),
	}
	var out struct {
		ID        string    `json:"id"`
		Key       string    `json:"key"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err = c.do(ctx, http.MethodPost, "/agents/enrollment-keys", req, &out)
	return out.ID, out.Key, out.ExpiresAt, err
}

// ListAgents returns every registered agent, optionally filtered by status.
func (c *Client) ListAgents(status string) ([]*types.Agent, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	path := "/agents"
	if status != "" {
		path += "?status=" + status
	}
	var out []*types.Agent
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// SuspendAgent disables an agent's heartbeats and shell access, recording reason.
func (c *Client) SuspendAgent(agentID, reason string) error {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/agents/"+agentID+"/suspend", req, nil)
}

// SignShellRequest is the CLI-facing counterpart to pkg/api's sign
// request, carrying the user's public key in OpenSSH authorized-key form.
// Team membership is resolved server-side from UserEmail; the caller has
// no way to assert it directly.
type SignShellRequest struct {
	UserEmail       string   `json:"user_email"`
	UserPublicKey   string   `json:"user_public_key"`
	Principals      []string `json:"principals"`
	ValiditySeconds int64    `json:"validity_seconds"`
	ResourceType    string   `json:"resource_type"`
	ResourceID      string   `json:"resource_id"`
}

// SignShellResult carries the signed certificate in authorized-key form.
type SignShellResult struct {
	Certificate string `json:"certificate"`
	KeyID       string `json:"key_id"`
}

// SignShell requests a short-lived SSH certificate for an interactive session.
func (c *Client) SignShell(req SignShellRequest) (*SignShellResult, error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	var out SignShellResult
	return &out, c.do(ctx, http.MethodPost, "/ssh-ca/sign", req, &out)
}

// JoinRaft adds nodeID at address as a Raft voter to the cluster.
func (c *Client) JoinRaft(nodeID, address string) error {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]string{"node_id": nodeID, "address": address}
	return c.do(ctx, http.MethodPost, "/v1/admin/raft/join", req, nil)
}

// GenerateJoinToken mints a join token a new Control node presents to
// its own Manager.Join call, scoped to role ("voter" or "worker").
func (c *Client) GenerateJoinToken(role string) (token, expiresAt string, err error) {
	ctx, cancel := c.requestCtx()
	defer cancel()
	req := map[string]string{"role": role}
	var out struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	err = c.do(ctx, http.MethodPost, "/v1/admin/raft/join-token", req, &out)
	return out.Token, out.ExpiresAt, err
}
