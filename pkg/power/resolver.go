package power

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/secrets"
	"github.com/cuemby/fleetboot/pkg/types"
)

// bmcCredentials is the JSON shape stored at a machine's secrets path,
// holding the BMC username/password a Driver needs beyond its address.
type bmcCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretsResolver maps a Machine to its Driver and Target by PowerType,
// pulling BMC credentials from a Secrets store rather than persisting
// them alongside the machine record itself.
type SecretsResolver struct {
	secrets     secrets.Store
	redfishHTTP *http.Client
}

// NewSecretsResolver builds a resolver that reads BMC credentials from
// store at path "bmc/<system_id>". redfishHTTP may be nil; a default
// client is used for Redfish calls in that case.
func NewSecretsResolver(store secrets.Store, redfishHTTP *http.Client) *SecretsResolver {
	return &SecretsResolver{secrets: store, redfishHTTP: redfishHTTP}
}

func (r *SecretsResolver) credentialsFor(systemID string) (bmcCredentials, error) {
	raw, err := r.secrets.Get("bmc/" + systemID)
	if err != nil {
		return bmcCredentials{}, err
	}
	var creds bmcCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return bmcCredentials{}, errors.New(errors.Invalid, "invalid_bmc_credentials", "stored BMC credentials are not valid JSON")
	}
	return creds, nil
}

// Resolve implements orchestrator.PowerResolver.
func (r *SecretsResolver) Resolve(machine *types.Machine) (Driver, Target, error) {
	switch machine.PowerType {
	case "ipmi":
		creds, err := r.credentialsFor(machine.SystemID)
		if err != nil {
			return nil, Target{}, fmt.Errorf("ipmi credentials for %s: %w", machine.SystemID, err)
		}
		return NewIPMIDriver(), Target{
			Address:  machine.BMCAddress,
			Username: creds.Username,
			Password: creds.Password,
		}, nil

	case "redfish":
		creds, err := r.credentialsFor(machine.SystemID)
		if err != nil {
			return nil, Target{}, fmt.Errorf("redfish credentials for %s: %w", machine.SystemID, err)
		}
		return NewRedfishDriver(r.redfishHTTP), Target{
			Address:  machine.BMCAddress,
			Username: creds.Username,
			Password: creds.Password,
		}, nil

	case "wol", "":
		return NewWoLDriver(), Target{MAC: machine.MACAddress}, nil

	default:
		return nil, Target{}, errors.New(errors.Invalid, "unknown_power_type", "machine has unrecognized power_type "+machine.PowerType)
	}
}
