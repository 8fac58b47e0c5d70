package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hillheadsc/racelights/internal/relay"
)

// DefaultHealthInterval is used when no interval is configured.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Site    string
	Version string
	Topic   string

	// Interval defaults to DefaultHealthInterval.
	Interval time.Duration

	Publisher HealthPublisher

	// SessionState reports the relay session state. Nil means unknown,
	// which is published as unhealthy.
	SessionState func() relay.SessionState
}

// HealthReporter publishes retained health at a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start publishes the current status and then one every interval until
// ctx is done or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "controller stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "controller starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.log().Warn("failed to publish health", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.log().Warn("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.SessionState == nil {
		return HealthUnhealthy, "session state unknown"
	}
	switch h.cfg.SessionState() {
	case relay.Connected:
		return HealthHealthy, ""
	case relay.Reconnecting:
		return HealthDegraded, "relay reconnecting"
	default:
		return HealthUnhealthy, "relay disconnected"
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Site:          h.cfg.Site,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.cfg.SessionState != nil {
		msg.Session = h.cfg.SessionState().String()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
