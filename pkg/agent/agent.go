// Package agent implements the AgentProtocol: enrollment-key redemption,
// heartbeat ingest with offline/revive tracking, short-TTL agent-token
// refresh, and admin suspension — the lifecycle Control runs against every
// software agent reporting in from a deployed machine.
package agent

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/log"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTokenTTL is the lifetime of an agent_token issued at enrollment or
// refresh, absent an explicit override.
const DefaultTokenTTL = 60 * time.Minute

// MissedHeartbeatsOffline is the number of consecutive missed heartbeats
// (at the agent's configured interval) after which an agent is marked
// offline.
const MissedHeartbeatsOffline = 5

// DefaultHeartbeatIntervalSeconds is advertised to agents in every
// successful heartbeat response.
const DefaultHeartbeatIntervalSeconds = 30

// Service implements the Agent side of AgentProtocol against the Control
// manager's replicated Agent/EnrollmentKey state.
type Service struct {
	manager  *manager.Manager
	tokenTTL time.Duration
	logger   zerolog.Logger
}

// NewService creates an agent Service. tokenTTL falls back to
// DefaultTokenTTL when zero.
func NewService(mgr *manager.Manager, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Service{
		manager:  mgr,
		tokenTTL: tokenTTL,
		logger:   log.WithComponent("agent"),
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", ferrors.Wrap(ferrors.Transient, "token_generation_failed", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EnrollRequest carries the fields a machine's agent self-reports at
// enrollment time.
type EnrollRequest struct {
	Key          string
	Name         string
	AgentType    string
	Capabilities []string
	Tags         []string
	MachineID    string
}

// EnrollResult is returned to a newly (or re-)enrolled agent.
type EnrollResult struct {
	AgentID        string
	AgentToken     string
	TokenExpiresAt time.Time
}

// Enroll redeems an enrollment key for a fresh agent identity and token.
// Re-enrolling with a single-use key that is already consumed, before it
// expires, is idempotent: the agent_id bound to that key is returned with
// a freshly issued token. A reusable key creates a new agent on every call.
func (s *Service) Enroll(req EnrollRequest) (*EnrollResult, error) {
	key, err := s.findEnrollmentKey(req.Key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if now.After(key.ExpiresAt) {
		return nil, ferrors.New(ferrors.Unauthorized, "enrollment_expired", "enrollment key has expired")
	}
	if key.SingleUse && key.ConsumedAt != nil {
		if existing := s.findAgentByEnrollmentKey(key.ID); existing != nil {
			return s.reissueToken(existing)
		}
		return nil, ferrors.New(ferrors.Unauthorized, "invalid_enrollment", "enrollment key already consumed")
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.tokenTTL)
	ag := &types.Agent{
		AgentID:         uuid.New().String(),
		MachineID:       req.MachineID,
		EnrollmentKeyID: key.ID,
		Name:            req.Name,
		AgentType:       req.AgentType,
		Capabilities:    req.Capabilities,
		Tags:            req.Tags,
		Status:          types.AgentActive,
		TokenHash:       hashToken(token),
		TokenExpiresAt:  expiresAt,
		LastHeartbeatAt: now,
	}

	if err := s.manager.CreateAgent(ag); err != nil {
		return nil, err
	}

	if key.SingleUse {
		key.ConsumedAt = &now
		if err := s.manager.UpdateEnrollmentKey(key); err != nil {
			s.logger.Error().Err(err).Str("key_id", key.ID).Msg("failed to mark enrollment key consumed")
		}
	}

	s.logger.Info().Str("agent_id", ag.AgentID).Str("machine_id", req.MachineID).Msg("agent enrolled")

	return &EnrollResult{AgentID: ag.AgentID, AgentToken: token, TokenExpiresAt: expiresAt}, nil
}

func (s *Service) reissueToken(ag *types.Agent) (*EnrollResult, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(s.tokenTTL)

	ag.TokenHash = hashToken(token)
	ag.TokenExpiresAt = expiresAt
	if err := s.manager.UpdateAgent(ag); err != nil {
		return nil, err
	}

	return &EnrollResult{AgentID: ag.AgentID, AgentToken: token, TokenExpiresAt: expiresAt}, nil
}

func (s *Service) findEnrollmentKey(rawKey string) (*types.EnrollmentKey, error) {
	keys, err := s.manager.ListEnrollmentKeys()
	if err != nil {
		return nil, err
	}
	hashed := hashToken(rawKey)
	for _, k := range keys {
		if k.KeyHash == hashed {
			return k, nil
		}
	}
	return nil, ferrors.New(ferrors.Unauthorized, "invalid_enrollment", "enrollment key not recognized")
}

func (s *Service) findAgentByEnrollmentKey(keyID string) *types.Agent {
	agents, err := s.manager.ListAgents()
	if err != nil {
		return nil
	}
	for _, a := range agents {
		if a.EnrollmentKeyID == keyID {
			return a
		}
	}
	return nil
}

func (s *Service) findAgentByToken(token string) (*types.Agent, error) {
	hashed := hashToken(token)
	agents, err := s.manager.ListAgents()
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.TokenHash == hashed {
			return a, nil
		}
	}
	return nil, ferrors.New(ferrors.Unauthorized, "invalid_token", "agent token not recognized")
}
