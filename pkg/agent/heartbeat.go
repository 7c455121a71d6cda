package agent

import (
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
)

// HeartbeatRequest is the body of a POST /agents/heartbeat call.
type HeartbeatRequest struct {
	Token      string
	Status     types.AgentStatus
	QuickStats types.QuickStats
}

// HeartbeatResult acknowledges a heartbeat and tells the agent how long to
// wait before its next one.
type HeartbeatResult struct {
	Acknowledged             bool
	NextHeartbeatIntervalSec int
}

// Heartbeat updates an agent's liveness. An agent found offline is silently
// revived; a suspended agent's heartbeat is rejected.
func (s *Service) Heartbeat(req HeartbeatRequest) (*HeartbeatResult, error) {
	ag, err := s.findAgentByToken(req.Token)
	if err != nil {
		return nil, err
	}

	if ag.Status == types.AgentSuspended {
		return nil, ferrors.New(ferrors.Forbidden, "agent_suspended", "agent is suspended")
	}

	now := time.Now()
	if now.After(ag.TokenExpiresAt) {
		return nil, ferrors.New(ferrors.Unauthorized, "token_expired", "agent token has expired")
	}

	ag.LastHeartbeatAt = now
	ag.Status = types.AgentActive
	ag.QuickStats = req.QuickStats

	if err := s.manager.UpdateAgent(ag); err != nil {
		return nil, err
	}

	return &HeartbeatResult{Acknowledged: true, NextHeartbeatIntervalSec: DefaultHeartbeatIntervalSeconds}, nil
}

// RefreshTokenRequest carries the agent's current (possibly near-expired)
// token.
type RefreshTokenRequest struct {
	Token string
}

// RefreshToken issues a fresh token for an agent whose current token is
// still within its grace window — up to one more TTL past expiry. Past the
// grace window the agent must re-enroll.
func (s *Service) RefreshToken(req RefreshTokenRequest) (*EnrollResult, error) {
	ag, err := s.findAgentByToken(req.Token)
	if err != nil {
		return nil, err
	}

	if ag.Status == types.AgentSuspended {
		return nil, ferrors.New(ferrors.Forbidden, "agent_suspended", "agent is suspended")
	}

	grace := ag.TokenExpiresAt.Add(s.tokenTTL)
	if time.Now().After(grace) {
		return nil, ferrors.New(ferrors.Unauthorized, "token_expired", "token is past its refresh grace window; re-enroll required")
	}

	return s.reissueToken(ag)
}

// Suspend invalidates an agent's token and records the reason. Subsequent
// heartbeats and token refreshes fail until an admin re-enrolls it.
func (s *Service) Suspend(agentID, reason string) error {
	ag, err := s.manager.GetAgent(agentID)
	if err != nil {
		return err
	}

	ag.Status = types.AgentSuspended
	ag.SuspendedReason = reason
	ag.TokenHash = ""

	return s.manager.UpdateAgent(ag)
}

// SweepOfflineAgents marks any active agent offline once it has gone
// MissedHeartbeatsOffline heartbeat intervals without reporting in. Intended
// to run on a periodic tick, mirroring the reconciler's sweep pattern.
func (s *Service) SweepOfflineAgents(now time.Time) error {
	agents, err := s.manager.ListAgents()
	if err != nil {
		return err
	}

	staleAfter := time.Duration(MissedHeartbeatsOffline*DefaultHeartbeatIntervalSeconds) * time.Second

	for _, ag := range agents {
		if ag.Status != types.AgentActive {
			continue
		}
		if now.Sub(ag.LastHeartbeatAt) <= staleAfter {
			continue
		}
		ag.Status = types.AgentOffline
		if err := s.manager.UpdateAgent(ag); err != nil {
			s.logger.Error().Err(err).Str("agent_id", ag.AgentID).Msg("failed to mark agent offline")
		}
	}

	return nil
}
