package dobiss

import (
	"time"
)

// Measurement names written by PointTelemetry.
const (
	MeasurementCommand = "dobiss_command"
	MeasurementBus     = "dobiss_bus"
)

// PointWriter writes one time-series point. influxdb.Client implements it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// PointTelemetry implements Telemetry on top of a PointWriter.
//
// Command outcomes become one dobiss_command point each, tagged with the
// output address and final status. Bus and driver counters are written as
// one dobiss_bus point per health interval; they are cumulative, so
// dashboards should take the difference between points.
type PointTelemetry struct {
	writer PointWriter
}

// Ensure PointTelemetry implements Telemetry.
var _ Telemetry = (*PointTelemetry)(nil)

// NewPointTelemetry returns a Telemetry writing through w.
func NewPointTelemetry(w PointWriter) *PointTelemetry {
	return &PointTelemetry{writer: w}
}

// RecordCommand implements Telemetry.
func (t *PointTelemetry) RecordCommand(address string, status AckStatus, attempts int, latency time.Duration) {
	t.writer.WritePoint(MeasurementCommand,
		map[string]string{
			"address": address,
			"status":  string(status),
		},
		map[string]interface{}{
			"attempts":   attempts,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
	)
}

// RecordBusStats implements Telemetry.
func (t *PointTelemetry) RecordBusStats(bridgeID string, bus BusStats, drv DriverStats) {
	t.writer.WritePoint(MeasurementBus,
		map[string]string{
			"bridge": bridgeID,
		},
		map[string]interface{}{
			"connected":           bus.Connected,
			"link_up":             drv.LinkUp,
			"frames_tx":           bus.FramesTx,
			"frames_rx":           bus.FramesRx,
			"frames_filtered":     bus.FramesFiltered,
			"bus_errors":          bus.ErrorsTotal,
			"reconnects":          bus.ReconnectsTotal,
			"frames_unknown":      drv.FramesUnknown,
			"frames_unconfigured": drv.FramesUnconfigured,
			"frames_stray":        drv.FramesStray,
			"frames_dropped":      drv.FramesDropped,
			"commands_sent":       drv.CommandsSent,
			"commands_confirmed":  drv.CommandsConfirmed,
			"commands_retried":    drv.CommandsRetried,
			"commands_timed_out":  drv.CommandsTimedOut,
			"commands_failed":     drv.CommandsFailed,
			"polls_missed":        drv.PollsMissed,
			"pending":             drv.Pending,
		},
	)
}
