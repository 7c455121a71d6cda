package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySinkRecordsEventsInOrder(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Emit(Event{Type: CertIssued, Actor: "alice@example.com", Timestamp: time.Now()}))
	require.NoError(t, sink.Emit(Event{Type: CertCSRReject, Actor: "bob@example.com", Timestamp: time.Now()}))

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, CertIssued, events[0].Type)
	require.Equal(t, CertCSRReject, events[1].Type)
}

func TestMemorySinkEventsReturnsACopy(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Emit(Event{Type: CertIssued}))

	events := sink.Events()
	events[0].Type = ShellDenied

	require.Equal(t, CertIssued, sink.Events()[0].Type)
}

func TestLogSinkEmitNeverErrors(t *testing.T) {
	sink := NewLogSink()
	require.NoError(t, sink.Emit(Event{Type: ShellDenied, Actor: "mallory@example.com", Timestamp: time.Now()}))
}
