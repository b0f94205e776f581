package telemetry

import "sync/atomic"

// counters holds the process-wide atomic packet counters. Any component
// may increment; only the telemetry loop reads them. Monotonic, never
// reset, relaxed ordering is sufficient — APRS does not require exact
// cross-field consistency.
type counters struct {
	PacketsRx          atomic.Uint64
	PacketsTx          atomic.Uint64
	PacketsDigipeated  atomic.Uint64
	PacketsIgateRFtoIS atomic.Uint64
	PacketsIgateIStoRF atomic.Uint64
}

// Stats is the single process-wide telemetry counter set.
var Stats counters
