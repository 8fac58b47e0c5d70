package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/hillheadsc/racelights/internal/bridge"
	"github.com/hillheadsc/racelights/internal/history"
	"github.com/hillheadsc/racelights/internal/relay"
)

// ConnectionChecker reports whether a client is connected. *mqtt.Client
// satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// BridgeStatsProvider is satisfied by *bridge.Bridge.
type BridgeStatsProvider interface {
	Stats() bridge.Stats
}

// RecorderStatsProvider is satisfied by *history.Recorder.
type RecorderStatsProvider interface {
	Stats() history.RecorderStats
}

// DBStatsProvider is satisfied by *sql.DB and *database.DB.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Relay         relay.Stats      `json:"relay"`
	MQTT          *MQTTMetrics     `json:"mqtt,omitempty"`
	History       *HistoryMetrics  `json:"history,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
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
	ConnectedClients int    `json:"connected_clients"`
	DroppedClients   uint64 `json:"dropped_clients"`
}

// MQTTMetrics contains MQTT client and bridge statistics.
type MQTTMetrics struct {
	Connected bool          `json:"connected"`
	Bridge    *bridge.Stats `json:"bridge,omitempty"`
}

// HistoryMetrics contains history recorder statistics.
type HistoryMetrics struct {
	Recorder history.RecorderStats `json:"recorder"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns relay, surface and runtime metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Snapshot(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

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
			DroppedClients:   s.hub.Dropped(),
		},
		Relay: status.Relay,
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
		if s.bridge != nil {
			stats := s.bridge.Stats()
			metrics.MQTT.Bridge = &stats
		}
	}

	if s.recorder != nil {
		metrics.History = &HistoryMetrics{Recorder: s.recorder.Stats()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
