// Package bootworker implements the edge process that answers a
// PXE-booting machine's DHCP, TFTP, and HTTP requests, delegating every
// decision about what to boot back to Control. It holds no durable state
// of its own: the iPXE script it serves is a pure function of the
// machine state, active job, and boot image that Control hands it, and
// every cloud-init or image byte it proxies comes straight from Control
// or a presigned storage URL.
//
// A BootWorker enrolls once with a shared key, then heartbeats on a
// short interval to keep its session token alive. DHCP runs in exactly
// one of three modes (full, proxy, disabled); TFTP is always read-only;
// HTTP degrades every Control outage to a local fallback script rather
// than blocking a booting machine indefinitely.
package bootworker
