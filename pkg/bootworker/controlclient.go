package bootworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// MaxRetryBackoff bounds every retried call to Control at 60s between
// attempts, per the no-unbounded-retry rule.
const MaxRetryBackoff = 60 * time.Second

// ControlClient is the BootWorker's authenticated HTTP client to Control's
// internal surface. Every call is wrapped in bounded exponential backoff;
// callers that need a hard deadline should pass a context with one.
type ControlClient struct {
	baseURL      string
	sessionToken string
	http         *http.Client
}

// NewControlClient creates a client against Control's base URL,
// authenticated with the worker's current session token.
func NewControlClient(baseURL, sessionToken string) *ControlClient {
	return &ControlClient{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// SetSessionToken updates the token used on subsequent calls, after a
// heartbeat rotates it.
func (c *ControlClient) SetSessionToken(token string) {
	c.sessionToken = token
}

func (c *ControlClient) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = MaxRetryBackoff
	return b
}

func (c *ControlClient) doRetried(ctx context.Context, method, path string, body any) (*http.Response, error) {
	return backoff.Retry(ctx, func() (*http.Response, error) {
		resp, err := c.do(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("control returned %d", resp.StatusCode)
		}
		return resp, nil
	}, backoff.WithBackOff(c.backOff()))
}

func (c *ControlClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	return c.http.Do(req)
}

// BootScriptResponse is Control's answer to GET /internal/boot-script/<mac>.
type BootScriptResponse struct {
	Script    string `json:"script"`
	MachineID string `json:"machine_id"`
	Status    string `json:"status"`
}

// FetchBootScript retrieves the rendered iPXE script for a normalized MAC.
// A 404 is reported back to the caller as ferrors.NotFound without
// retrying, so the HTTP layer can fall back at once.
func (c *ControlClient) FetchBootScript(ctx context.Context, mac string) (*BootScriptResponse, error) {
	resp, err := c.doRetried(ctx, http.MethodGet, "/internal/boot-script/"+mac, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ferrors.New(ferrors.NotFound, "boot_script_not_found", "control has no script for this mac")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.New(ferrors.Transient, "control_error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var out BootScriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_decode_failed", err)
	}
	return &out, nil
}

// FetchCloudInit streams Control's meta-data or user-data passthrough for
// a machine ID, along with the declared content type.
func (c *ControlClient) FetchCloudInit(ctx context.Context, machineID, part string) ([]byte, string, error) {
	resp, err := c.doRetried(ctx, http.MethodGet, fmt.Sprintf("/internal/cloud-init/%s/%s", machineID, part), nil)
	if err != nil {
		return nil, "", ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", ferrors.New(ferrors.Transient, "control_error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", ferrors.Wrap(ferrors.Transient, "control_read_failed", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ImageURLResponse is Control's answer to GET /internal/image-url/<path>.
type ImageURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// FetchImageURL requests a time-limited presigned URL for path. BlobStore
// credentials never reach the worker; only the presigned URL does.
func (c *ControlClient) FetchImageURL(ctx context.Context, path string) (*ImageURLResponse, error) {
	resp, err := c.doRetried(ctx, http.MethodGet, "/internal/image-url/"+path, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.New(ferrors.Transient, "control_error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var out ImageURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_decode_failed", err)
	}
	return &out, nil
}

// BootEventPayload forwards a booting machine's progress event to Control.
type BootEventPayload struct {
	MAC       string `json:"mac"`
	IP        string `json:"ip,omitempty"`
	EventType string `json:"event_type"`
	Details   string `json:"details,omitempty"`
}

// PostBootEvent forwards a BootEvent observed by the worker.
func (c *ControlClient) PostBootEvent(ctx context.Context, evt BootEventPayload) error {
	resp, err := c.doRetried(ctx, http.MethodPost, "/internal/boot-event", evt)
	if err != nil {
		return ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return ferrors.New(ferrors.Transient, "control_error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// EnrollRequest is the worker's self-identification at enrollment time.
type EnrollRequest struct {
	WorkerID     string   `json:"worker_id,omitempty"`
	Site         string   `json:"site,omitempty"`
	Interface    string   `json:"interface,omitempty"`
	DHCPMode     string   `json:"dhcp_mode"`
	Capabilities []string `json:"capabilities,omitempty"`
	SharedKey    string   `json:"shared_key"`
}

// EnrollResponse is Control's reply to POST /workers/enroll.
type EnrollResponse struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token"`
}

// Enroll redeems the worker's shared key for a worker_id and session token.
func (c *ControlClient) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResponse, error) {
	resp, err := c.doRetried(ctx, http.MethodPost, "/workers/enroll", req)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, ferrors.New(ferrors.Unauthorized, "worker_enroll_failed", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var out EnrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_decode_failed", err)
	}
	c.sessionToken = out.SessionToken
	return &out, nil
}

// HeartbeatResponse acknowledges a worker heartbeat and may carry a rotated
// session token.
type HeartbeatResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	SessionToken string `json:"session_token,omitempty"`
}

// Heartbeat reports worker liveness to Control.
func (c *ControlClient) Heartbeat(ctx context.Context, workerID string) (*HeartbeatResponse, error) {
	resp, err := c.doRetried(ctx, http.MethodPost, "/workers/heartbeat", map[string]string{"worker_id": workerID})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.New(ferrors.Unauthorized, "worker_heartbeat_failed", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var out HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "control_decode_failed", err)
	}
	if out.SessionToken != "" {
		c.sessionToken = out.SessionToken
	}
	return &out, nil
}
