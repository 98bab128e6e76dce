package lwm2m

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// checkTimeout bounds each dependency probe.
const checkTimeout = 5 * time.Second

// HealthPublisher publishes the retained health message. The MQTT client
// satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthCheck probes one dependency, e.g. the reading log or InfluxDB.
type HealthCheck func(ctx context.Context) error

// HealthReporterConfig configures NewHealthReporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher

	// Stats supplies the counters for each message. Optional.
	Stats func() Stats

	// Checks run before every periodic publish; a failure degrades the
	// status until the next run. Optional.
	Checks map[string]HealthCheck
}

// HealthReporter publishes lwm2m/health/{bridge_id} on a ticker and
// evaluates the status served by the API.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu       sync.RWMutex
	lastPoll time.Time
	pollErr  error
	failing  map[string]error
	logger   Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter returns a reporter; Start begins publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		started: time.Now(),
		failing: make(map[string]error),
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
}

// SetLogger replaces the reporter's logger.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger
}

// Start publishes immediately and then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()

		for {
			h.RunChecks(ctx)
			if err := h.PublishNow(); err != nil {
				h.log().Error("failed to publish health", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends reporting and publishes a final "stopping" status. Further
// calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.log().Debug("final health publish failed", "error", err)
		}
	})
}

// RecordPoll stores the outcome of the latest poll cycle. An error
// degrades the status until the next successful cycle.
func (h *HealthReporter) RecordPoll(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollErr = err
	if err == nil {
		h.lastPoll = at
	}
}

// RunChecks runs every configured check and remembers which failed.
func (h *HealthReporter) RunChecks(ctx context.Context) {
	failing := make(map[string]error)
	for name, check := range h.cfg.Checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := check(cctx); err != nil {
			failing[name] = err
		}
		cancel()
	}

	h.mu.Lock()
	for name, err := range failing {
		if _, known := h.failing[name]; !known {
			h.logger.Warn("health check failing", "check", name, "error", err)
		}
	}
	h.failing = failing
	h.mu.Unlock()
}

// PublishStarting announces the bridge before its first full status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Status())
}

// Status is degraded while MQTT is down, the last poll failed or any check
// is failing; otherwise healthy.
func (h *HealthReporter) Status() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pollErr != nil {
		return HealthDegraded, "last poll failed: " + h.pollErr.Error()
	}
	if len(h.failing) > 0 {
		names := make([]string, 0, len(h.failing))
		for name := range h.failing {
			names = append(names, name)
		}
		slices.Sort(names)
		return HealthDegraded, fmt.Sprintf("%s: %v", names[0], h.failing[names[0]])
	}
	return HealthHealthy, ""
}

// Message assembles the payload for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Reason:        reason,
	}
	if h.cfg.Stats != nil {
		msg.Statistics = h.cfg.Stats()
	}

	h.mu.RLock()
	if !h.lastPoll.IsZero() {
		last := h.lastPoll.UTC()
		msg.LastPoll = &last
	}
	h.mu.RUnlock()
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(h.cfg.BridgeID), payload, 1, true)
}
