// Package agent's three flows mirror AgentProtocol directly:
//
//	Enroll         redeem an admin-issued enrollment key for an agent_id
//	                and a short-TTL agent_token.
//	Heartbeat       keep an agent's last_heartbeat_at current; silently
//	                revive an agent found offline.
//	RefreshToken    exchange a near-expired token for a fresh one inside
//	                the refresh grace window.
//
// ShellSigner layers the SSH-CA shell-session sub-protocol on top: a
// caller's team membership must carry PermShell on the target resource
// before security.ShellCA will be asked to sign anything, and every
// signature is recorded as a ShellSession audit entry regardless of
// whether the caller ever uses the resulting certificate.
package agent
