package dobiss

import (
	"sync"
	"testing"
	"time"
)

type writtenPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

type recordingPointWriter struct {
	mu     sync.Mutex
	points []writtenPoint
}

func (w *recordingPointWriter) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	w.mu.Lock()
	w.points = append(w.points, writtenPoint{measurement, tags, fields})
	w.mu.Unlock()
}

func TestPointTelemetryRecordCommand(t *testing.T) {
	w := &recordingPointWriter{}
	tel := NewPointTelemetry(w)

	tel.RecordCommand("2.3", AckTimeout, 3, 1500*time.Millisecond)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.measurement != MeasurementCommand {
		t.Errorf("measurement = %q", p.measurement)
	}
	if p.tags["address"] != "2.3" || p.tags["status"] != "timeout" {
		t.Errorf("tags = %v", p.tags)
	}
	if p.fields["attempts"] != 3 || p.fields["latency_ms"] != 1500.0 {
		t.Errorf("fields = %v", p.fields)
	}
}

func TestPointTelemetryRecordBusStats(t *testing.T) {
	w := &recordingPointWriter{}
	tel := NewPointTelemetry(w)

	tel.RecordBusStats("bridge-1",
		BusStats{FramesTx: 10, FramesRx: 8, Connected: true},
		DriverStats{CommandsConfirmed: 4, FramesStray: 1, Pending: 2, LinkUp: true},
	)

	p := w.points[0]
	if p.measurement != MeasurementBus || p.tags["bridge"] != "bridge-1" {
		t.Errorf("point = %+v", p)
	}
	checks := map[string]interface{}{
		"frames_tx":          uint64(10),
		"frames_rx":          uint64(8),
		"commands_confirmed": uint64(4),
		"frames_stray":       uint64(1),
		"pending":            2,
		"connected":          true,
		"link_up":            true,
	}
	for k, want := range checks {
		if p.fields[k] != want {
			t.Errorf("%s = %v (%T), want %v", k, p.fields[k], p.fields[k], want)
		}
	}
}
