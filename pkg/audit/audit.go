// Package audit implements the AuditSink capability: every
// security-relevant decision Control makes on a caller's behalf — an SSH
// certificate issued or rejected, a shell grant exercised or denied — is
// emitted as one Event. Control depends only on the Sink interface;
// durable, queryable storage of the resulting stream is an external
// concern. LogSink, the reference implementation, writes each event as a
// structured line through pkg/log so a deployment can ship it onward
// with any log collector; MemorySink exists for tests that need to
// assert on what was emitted.
package audit

import "time"

// Type discriminates the kind of security decision an Event records.
type Type string

const (
	// CertIssued marks a successful SSH certificate signing.
	CertIssued Type = "cert.issued"
	// CertCSRReject marks a signing request rejected before a
	// certificate was issued, e.g. for requesting more validity than
	// the CA allows.
	CertCSRReject Type = "cert.csr_reject"
	// ShellDenied marks a shell-session request rejected because the
	// caller held no shell capability on the requested resource, or
	// requested a principal outside the granting team.
	ShellDenied Type = "shell.denied"
)

// Event is one audit record. Resource is "resourceType:resourceID" and
// is empty when the event is not scoped to a resource.
type Event struct {
	Type      Type
	Actor     string
	Resource  string
	Reason    string
	Timestamp time.Time
}

// Sink is the capability interface every audit backend implements. Emit
// must not block the caller on durability; a Sink that needs to batch or
// retry does so internally.
type Sink interface {
	Emit(event Event) error
}
