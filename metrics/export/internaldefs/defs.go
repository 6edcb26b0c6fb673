package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef binds a client counter to its exported name.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef binds a client histogram to its exported name.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Logins that established a session."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Rejected or failed logins."},
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Accepted registrations."},
	{ID: goSession.MetricRegisterFailure, Name: "gosession_register_failure_total", Help: "Rejected or failed registrations."},
	{ID: goSession.MetricRenewalStarted, Name: "gosession_renewal_started_total", Help: "Renewal calls sent to the server."},
	{ID: goSession.MetricRenewalJoined, Name: "gosession_renewal_joined_total", Help: "Requests that waited on another request's renewal."},
	{ID: goSession.MetricRenewalSuccess, Name: "gosession_renewal_success_total", Help: "Renewals that replaced the session."},
	{ID: goSession.MetricRenewalFailure, Name: "gosession_renewal_failure_total", Help: "Renewals rejected by the server or transport."},
	{ID: goSession.MetricReplaySuccess, Name: "gosession_replay_success_total", Help: "Requests replayed after renewal and accepted."},
	{ID: goSession.MetricReplayRejected, Name: "gosession_replay_rejected_total", Help: "Replays rejected again with 401."},
	{ID: goSession.MetricForcedLogout, Name: "gosession_forced_logout_total", Help: "Sessions ended by a failed renewal."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Explicit logouts."},
	{ID: goSession.MetricSessionPurged, Name: "gosession_session_purged_total", Help: "Stored sessions discarded at load."},
	{ID: goSession.MetricPersistFailure, Name: "gosession_persist_failure_total", Help: "Failed writes to the durable session record."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRenewalLatency, Name: "gosession_renewal_latency_seconds", Help: "Renewal round-trip latency."},
}

// EventsDroppedName is the counter for events discarded by a full dispatch buffer.
const EventsDroppedName = "gosession_events_dropped_total"

// EventsDroppedHelp describes EventsDroppedName.
const EventsDroppedHelp = "Events dropped due to dispatcher backpressure."

// HistogramBounds are the upper bounds, in seconds, of the client's latency buckets.
var HistogramBounds = []string{
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds in a form usable inside instrument names.
var HistogramBoundSuffix = []string{
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
