package agent

import (
	"time"

	"github.com/cuemby/fleetboot/pkg/audit"
	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/security"
	"github.com/cuemby/fleetboot/pkg/types"
	"golang.org/x/crypto/ssh"
)

// ShellSigner bridges the capability model's permission checks to the
// shell-session SSH-CA sub-protocol.
type ShellSigner struct {
	service *Service
	ca      *security.ShellCA
	audit   audit.Sink
}

// NewShellSigner creates a ShellSigner bound to service's manager and ca.
// Every signing decision, granted or rejected, is emitted to sink.
func NewShellSigner(service *Service, ca *security.ShellCA, sink audit.Sink) *ShellSigner {
	return &ShellSigner{service: service, ca: ca, audit: sink}
}

func (s *ShellSigner) emit(evt audit.Event) {
	if s.audit == nil {
		return
	}
	evt.Timestamp = time.Now()
	if err := s.audit.Emit(evt); err != nil {
		s.service.logger.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to emit audit event")
	}
}

// SignShellRequest is the input to POST /ssh-ca/sign. Team membership is
// never taken from the caller; Sign derives it server-side from
// UserEmail against each ResourceTeam's Members map, so a caller cannot
// claim membership in a team it does not actually belong to.
type SignShellRequest struct {
	UserEmail       string
	UserPublicKey   ssh.PublicKey
	Principals      []string
	ValiditySeconds int64
	ResourceType    string
	ResourceID      string
}

// SignShellResult is returned on a successful certificate issuance.
type SignShellResult struct {
	Certificate *ssh.Certificate
	KeyID       string
}

// Sign checks that the caller holds shell capability on the requested
// resource through one of the teams UserEmail actually belongs to, that
// every requested principal is a member of the team granting that shell
// assignment,
// then signs a certificate and records the audit trail as a ShellSession.
func (s *ShellSigner) Sign(req SignShellRequest) (*SignShellResult, error) {
	teamIDs, err := s.callerTeamIDs(req.UserEmail)
	if err != nil {
		return nil, err
	}

	resource := req.ResourceType + ":" + req.ResourceID

	assignment, err := s.findShellAssignment(teamIDs, req.ResourceType, req.ResourceID)
	if err != nil {
		s.emit(audit.Event{Type: audit.ShellDenied, Actor: req.UserEmail, Resource: resource, Reason: "shell_capability_required"})
		return nil, err
	}

	team, err := s.service.manager.GetTeam(assignment.TeamID)
	if err != nil {
		return nil, err
	}
	for _, p := range req.Principals {
		if _, member := team.Members[p]; !member {
			s.emit(audit.Event{Type: audit.ShellDenied, Actor: req.UserEmail, Resource: resource, Reason: "principal_not_allowed"})
			return nil, ferrors.New(ferrors.Forbidden, "principal_not_allowed",
				"requested principal is not a member of the granting team")
		}
	}

	cert, keyID, err := s.ca.Sign(&security.SignRequest{
		UserPublicKey:   req.UserPublicKey,
		Principals:      req.Principals,
		ValiditySeconds: req.ValiditySeconds,
		UserEmail:       req.UserEmail,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
	}, time.Now())
	if err != nil {
		reason := "sign_failed"
		if ferrors.Is(err, ferrors.Invalid) {
			reason = "validity_exceeds_maximum"
		}
		s.emit(audit.Event{Type: audit.CertCSRReject, Actor: req.UserEmail, Resource: resource, Reason: reason})
		return nil, err
	}

	session := &types.ShellSession{
		KeyID:        keyID,
		UserEmail:    req.UserEmail,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Principals:   req.Principals,
		ValidAfter:   time.Unix(int64(cert.ValidAfter), 0),
		ValidBefore:  time.Unix(int64(cert.ValidBefore), 0),
		CreatedAt:    time.Now(),
	}
	if err := s.service.manager.CreateShellSession(session); err != nil {
		s.service.logger.Error().Err(err).Str("key_id", keyID).Msg("failed to record shell session audit entry")
	}
	s.emit(audit.Event{Type: audit.CertIssued, Actor: req.UserEmail, Resource: resource, Reason: keyID})

	return &SignShellResult{Certificate: cert, KeyID: keyID}, nil
}

// callerTeamIDs returns the IDs of every team callerEmail is a member of,
// read from server-side team state rather than trusted from the request.
func (s *ShellSigner) callerTeamIDs(callerEmail string) ([]string, error) {
	teams, err := s.service.manager.ListTeams()
	if err != nil {
		return nil, err
	}

	var teamIDs []string
	for _, t := range teams {
		if _, member := t.Members[callerEmail]; member {
			teamIDs = append(teamIDs, t.ID)
		}
	}
	return teamIDs, nil
}

func (s *ShellSigner) findShellAssignment(teamIDs []string, resourceType, resourceID string) (*types.ResourceAssignment, error) {
	assignments, err := s.service.manager.ListAssignments()
	if err != nil {
		return nil, err
	}

	teamSet := make(map[string]bool, len(teamIDs))
	for _, t := range teamIDs {
		teamSet[t] = true
	}

	for _, a := range assignments {
		if !teamSet[a.TeamID] {
			continue
		}
		if a.ResourceType != resourceType || a.ResourceID != resourceID {
			continue
		}
		if a.HasPermission(types.PermShell) {
			return a, nil
		}
	}

	return nil, ferrors.New(ferrors.Forbidden, "shell_capability_required", "caller lacks shell capability on this resource")
}
