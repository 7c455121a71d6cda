package power

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// RedfishDriver drives power operations over the Redfish REST API against
// a single-system BMC (/redfish/v1/Systems/1).
type RedfishDriver struct {
	Client *http.Client
}

// NewRedfishDriver creates a RedfishDriver with TLS verification left to the
// caller's http.Client (a self-signed BMC cert is common and should be
// configured by the caller, not silently skipped here).
func NewRedfishDriver(client *http.Client) *RedfishDriver {
	if client == nil {
		client = &http.Client{}
	}
	return &RedfishDriver{Client: client}
}

func (d *RedfishDriver) Backend() string { return "redfish" }

func (d *RedfishDriver) systemURL(target Target) string {
	return fmt.Sprintf("https://%s/redfish/v1/Systems/1", target.Address)
}

func (d *RedfishDriver) resetAction(ctx context.Context, target Target, resetType string) error {
	callCtx, cancel := withCallTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"ResetType": resetType})
	if err != nil {
		return fmt.Errorf("failed to marshal Redfish reset body: %w", err)
	}

	url := d.systemURL(target) + "/Actions/ComputerSystem.Reset"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build Redfish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(target.Username, target.Password)

	resp, err := d.Client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return ferrors.Wrap(ferrors.Transient, "power_timeout", callCtx.Err())
		}
		return ferrors.Wrap(ferrors.Transient, "power_backend", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ferrors.New(ferrors.Unauthorized, "power_auth", "redfish authentication failed")
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return ferrors.New(ferrors.Transient, "power_backend", fmt.Sprintf("redfish reset returned status %d", resp.StatusCode))
	}
}

func (d *RedfishDriver) On(ctx context.Context, target Target) error {
	return d.resetAction(ctx, target, "On")
}

func (d *RedfishDriver) Off(ctx context.Context, target Target) error {
	return d.resetAction(ctx, target, "ForceOff")
}

func (d *RedfishDriver) Cycle(ctx context.Context, target Target) error {
	return d.resetAction(ctx, target, "PowerCycle")
}

func (d *RedfishDriver) Reset(ctx context.Context, target Target) error {
	return d.resetAction(ctx, target, "ForceRestart")
}

func (d *RedfishDriver) Status(ctx context.Context, target Target) (State, error) {
	callCtx, cancel := withCallTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, d.systemURL(target), nil)
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to build Redfish request: %w", err)
	}
	req.SetBasicAuth(target.Username, target.Password)

	resp, err := d.Client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return StateUnknown, ferrors.Wrap(ferrors.Transient, "power_timeout", callCtx.Err())
		}
		return StateUnknown, ferrors.Wrap(ferrors.Transient, "power_backend", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return StateUnknown, ferrors.New(ferrors.Unauthorized, "power_auth", "redfish authentication failed")
	}
	if resp.StatusCode != http.StatusOK {
		return StateUnknown, ferrors.New(ferrors.Transient, "power_backend", fmt.Sprintf("redfish status returned %d", resp.StatusCode))
	}

	var body struct {
		PowerState string `json:"PowerState"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StateUnknown, fmt.Errorf("failed to decode Redfish system resource: %w", err)
	}

	switch body.PowerState {
	case "On":
		return StateOn, nil
	case "Off":
		return StateOff, nil
	default:
		return StateUnknown, nil
	}
}

func (d *RedfishDriver) SetNextBoot(ctx context.Context, target Target, device BootDevice, persistence Persistence) error {
	callCtx, cancel := withCallTimeout(ctx)
	defer cancel()

	var target509 string
	switch device {
	case DevicePXE:
		target509 = "Pxe"
	case DeviceDisk:
		target509 = "Hdd"
	case DeviceBIOS:
		target509 = "BiosSetup"
	default:
		return ferrors.New(ferrors.Invalid, "power_unsupported", fmt.Sprintf("unsupported boot device %q", device))
	}

	enabled := "Once"
	if persistence == PersistencePersistent {
		enabled = "Continuous"
	}

	payload := map[string]interface{}{
		"Boot": map[string]string{
			"BootSourceOverrideTarget":  target509,
			"BootSourceOverrideEnabled": enabled,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Redfish boot override: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPatch, d.systemURL(target), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build Redfish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(target.Username, target.Password)

	resp, err := d.Client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return ferrors.Wrap(ferrors.Transient, "power_timeout", callCtx.Err())
		}
		return ferrors.Wrap(ferrors.Transient, "power_backend", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ferrors.New(ferrors.Unauthorized, "power_auth", "redfish authentication failed")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return ferrors.New(ferrors.Transient, "power_backend", fmt.Sprintf("redfish boot override returned %d", resp.StatusCode))
	}

	return nil
}
