/*
Package health provides the HTTP, TCP, and exec probes the deployment
orchestrator uses to confirm a freshly provisioned machine is actually
reachable before marking its job complete.

Each checker implements the Checker interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker requests a URL and checks the response status falls within a
configurable range. TCPChecker dials an address and checks the connection
succeeds. ExecChecker runs a local command (e.g. "ping") and checks its
exit code. All three respect the context deadline passed to Check.

Status tracks a target's health over repeated checks with simple
hysteresis: Retries consecutive failures are required before flipping
from healthy to unhealthy, so one transient failure does not flap the
status.
*/
package health
