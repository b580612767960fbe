package senseme

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. The MQTT client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource supplies the figures a health message reports.
type HealthSource interface {
	HealthSnapshot() (managed, connected int, stats BridgeStatistics)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Source    HealthSource
	Clock     clockwork.Clock
	Logger    Logger
}

// HealthReporter publishes bridge health to senseme/health on a fixed
// interval, plus once at start and once when stopping.
type HealthReporter struct {
	bridgeID  string
	version   string
	interval  time.Duration
	publisher HealthPublisher
	source    HealthSource
	clock     clockwork.Clock
	startTime time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		clock:     clock,
		startTime: clock.Now(),
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the payload to register as the MQTT will.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.Chan():
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus is degraded while MQTT is down or while some fans have
// no open session.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source != nil {
		managed, connected, _ := h.source.HealthSnapshot()
		if connected < managed {
			return HealthDegraded, fmt.Sprintf("%d of %d fans disconnected", managed-connected, managed)
		}
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     h.clock.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(h.clock.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil {
		managed, connected, stats := h.source.HealthSnapshot()
		msg.DevicesManaged = managed
		msg.DevicesConnected = connected
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
