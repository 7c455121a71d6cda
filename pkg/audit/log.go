package audit

import "github.com/cuemby/fleetboot/pkg/log"

// LogSink emits every Event as a structured log line tagged
// component=audit, through the shared zerolog logger. This is the
// default Sink: it needs no storage of its own and relies on the
// process's log output being collected like any other operational log.
type LogSink struct{}

// NewLogSink returns a LogSink. There is no state to construct.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit never returns an error; a logging backend has no failure mode
// the caller can act on.
func (LogSink) Emit(event Event) error {
	logger := log.WithComponent("audit")
	entry := logger.Info()
	if event.Actor != "" {
		entry = entry.Str("actor", event.Actor)
	}
	if event.Resource != "" {
		entry = entry.Str("resource", event.Resource)
	}
	if event.Reason != "" {
		entry = entry.Str("reason", event.Reason)
	}
	entry.Str("event_type", string(event.Type)).Time("event_time", event.Timestamp).Msg("audit event")
	return nil
}
