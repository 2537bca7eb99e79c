package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Bridge        *BusMetrics    `json:"bridge,omitempty"`
	Driver        DriverMetrics  `json:"driver"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
	mqtt.Stats
}

// BusMetrics contains bridge and CAN transport statistics.
type BusMetrics struct {
	Connected      bool   `json:"connected"`
	Status         string `json:"status"`
	FramesTx       uint64 `json:"frames_tx"`
	FramesRx       uint64 `json:"frames_rx"`
	DevicesManaged int    `json:"devices_managed"`
}

// DriverMetrics contains command and poll counters from the driver.
type DriverMetrics struct {
	Outputs            int    `json:"outputs"`
	LinkUp             bool   `json:"link_up"`
	Pending            int    `json:"pending"`
	CommandsSent       uint64 `json:"commands_sent"`
	CommandsConfirmed  uint64 `json:"commands_confirmed"`
	CommandsRetried    uint64 `json:"commands_retried"`
	CommandsTimedOut   uint64 `json:"commands_timed_out"`
	CommandsSuperseded uint64 `json:"commands_superseded"`
	CommandsFailed     uint64 `json:"commands_failed"`
	PollsSent          uint64 `json:"polls_sent"`
	PollsMissed        uint64 `json:"polls_missed"`
	FramesUnknown      uint64 `json:"frames_unknown"`
	FramesUnconfigured uint64 `json:"frames_unconfigured"`
	FramesStray        uint64 `json:"frames_stray"`
	FramesDropped      uint64 `json:"frames_dropped"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	drv := s.driver.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Driver: DriverMetrics{
			Outputs:            s.driver.Table().Len(),
			LinkUp:             drv.LinkUp,
			Pending:            drv.Pending,
			CommandsSent:       drv.CommandsSent,
			CommandsConfirmed:  drv.CommandsConfirmed,
			CommandsRetried:    drv.CommandsRetried,
			CommandsTimedOut:   drv.CommandsTimedOut,
			CommandsSuperseded: drv.CommandsSuperseded,
			CommandsFailed:     drv.CommandsFailed,
			PollsSent:          drv.PollsSent,
			PollsMissed:        drv.PollsMissed,
			FramesUnknown:      drv.FramesUnknown,
			FramesUnconfigured: drv.FramesUnconfigured,
			FramesStray:        drv.FramesStray,
			FramesDropped:      drv.FramesDropped,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
			Stats:     s.mqtt.Stats(),
		}
	}

	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &BusMetrics{
			Connected:      bm.Connected,
			Status:         bm.Status,
			FramesTx:       bm.FramesTx,
			FramesRx:       bm.FramesRx,
			DevicesManaged: bm.DevicesManaged,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
