package lwm2m

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/history"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
	"github.com/nerrad567/gray-logic-leshan/internal/poller"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a write triggered by an MQTT command.
	commandTimeout = 10 * time.Second

	// cancelTimeout bounds the observe deactivations sent by Stop.
	cancelTimeout = 10 * time.Second
)

// Bridge applies the rules to Leshan devices and moves values between the
// Leshan server and MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt    MQTTClient
	leshan  LeshanClient
	polls   PollList
	history Recorder
	metrics MetricsWriter
	hub     Broadcaster
	health  *HealthReporter
	rules   Rules
	qos     byte

	mu           sync.Mutex
	applied      map[string]string // endpoint -> registration ID
	observations []observation

	// Last published value per resource, for poll change detection.
	stateCache   map[string]any
	stateCacheMu sync.Mutex

	notifications atomic.Uint64
	polledValues  atomic.Uint64
	commands      atomic.Uint64
	failures      atomic.Uint64

	started   atomic.Bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
	now      func() time.Time
}

type observation struct {
	device     leshan.Device
	instance   leshan.ObjectInstance
	resourceID int
}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// LeshanClient is the subset of *leshan.Client the bridge uses.
type LeshanClient interface {
	Directory() *leshan.Directory
	RefreshDevices(ctx context.Context) ([]leshan.Device, error)
	Observe(ctx context.Context, dev leshan.Device, oi leshan.ObjectInstance, resourceID int, cb leshan.Callback) error
	Cancel(ctx context.Context, dev leshan.Device, oi leshan.ObjectInstance, resourceID int) bool
	Write(ctx context.Context, dev leshan.Device, oi leshan.ObjectInstance, values []leshan.ResourceValue) error
	ReadDeviceInfo(ctx context.Context, dev leshan.Device) (leshan.DeviceInfo, error)
	ListenRegistrations(ctx context.Context, cb func(leshan.Device))
}

// PollList holds the instances that have poll resources.
// *poller.Coordinator implements it.
type PollList interface {
	AddToPollList(dev leshan.Device, instances ...leshan.ObjectInstance)
	RemoveFromPollList(endpoint string) int
}

// Recorder appends values to the reading log. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, source history.Source) error
}

// MetricsWriter writes time-series points. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteResource(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, ts time.Time)
	WritePollCycle(devices, results int, duration time.Duration, ok bool, ts time.Time)
}

// Broadcaster fans values out to websocket clients. *api.Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions holds the bridge's collaborators.
type BridgeOptions struct {
	// BridgeID names the health topic. Required.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Rules to apply. A zero value means DefaultRules.
	Rules Rules

	// QoS for state messages and the command subscription.
	QoS byte

	// HealthInterval between health messages. Zero means DefaultHealthInterval.
	HealthInterval time.Duration

	// MQTT client. Required.
	MQTT MQTTClient

	// Leshan client. Required.
	Leshan LeshanClient

	// Polls receives poll list entries. Optional.
	Polls PollList

	// History records every value. Optional.
	History Recorder

	// Metrics writes every value as a point. Optional.
	Metrics MetricsWriter

	// Hub broadcasts every value. Optional.
	Hub Broadcaster

	// HealthChecks probe other dependencies for the health status. Optional.
	HealthChecks map[string]HealthCheck

	// Logger receives bridge diagnostics. Optional.
	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin.
//
// Returns:
//   - *Bridge: Ready to start
//   - error: ErrMissingDependency or ErrInvalidRules
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}
	if opts.Leshan == nil {
		return nil, fmt.Errorf("%w: leshan client", ErrMissingDependency)
	}
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("%w: bridge id", ErrMissingDependency)
	}

	rules := opts.Rules
	if len(rules.Objects) == 0 {
		rules = DefaultRules()
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:       opts.MQTT,
		leshan:     opts.Leshan,
		polls:      opts.Polls,
		history:    opts.History,
		metrics:    opts.Metrics,
		hub:        opts.Hub,
		rules:      rules,
		qos:        opts.QoS,
		applied:    make(map[string]string),
		stateCache: make(map[string]any),
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     logger,
		now:        time.Now,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Stats:     b.Stats,
		Checks:    opts.HealthChecks,
	})
	b.health.SetLogger(logger)
	return b, nil
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Start applies the rules to every known device, then follows
// registrations and MQTT commands until Stop is called or ctx is
// cancelled.
//
// Returns:
//   - error: If the initial directory refresh or the command
//     subscription fails
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	context.AfterFunc(ctx, b.ctxCancel)

	if err := b.health.PublishStarting(); err != nil {
		b.getLogger().Warn("failed to publish starting status", "error", err)
	}

	devices, err := b.leshan.RefreshDevices(b.ctx)
	if err != nil {
		return fmt.Errorf("refreshing devices: %w", err)
	}
	for _, dev := range devices {
		b.adopt(dev, false)
	}

	if err := b.mqtt.Subscribe(mqtt.Topics{}.AllCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.leshan.ListenRegistrations(b.ctx, b.handleRegistration)
	}()

	b.health.Start(b.ctx)

	b.getLogger().Info("bridge started",
		"devices", len(devices),
		"observations", b.observationCount(),
		"rules", len(b.rules.Objects),
	)
	return nil
}

// Stop cancels every observation the bridge made and stops its loops.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if b.started.Load() {
			if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
				b.getLogger().Debug("command unsubscribe failed", "error", err)
			}
		}

		b.health.Stop()
		b.wg.Wait()

		b.mu.Lock()
		observations := b.observations
		b.observations = nil
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		for _, o := range observations {
			b.leshan.Cancel(ctx, o.device, o.instance, o.resourceID)
		}

		b.getLogger().Info("bridge stopped", "cancelled", len(observations))
	})
}

// Health returns the bridge's current health message.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.Status()
	return b.health.Message(status, reason)
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Devices:       b.leshan.Directory().Len(),
		Observations:  b.observationCount(),
		Notifications: b.notifications.Load(),
		PolledValues:  b.polledValues.Load(),
		Commands:      b.commands.Load(),
		Errors:        b.failures.Load(),
	}
}

func (b *Bridge) observationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observations)
}

// handleRegistration is the registration listener callback.
func (b *Bridge) handleRegistration(dev leshan.Device) {
	if b.leshan.Directory().Merge(dev) {
		b.getLogger().Info("new device registered", "endpoint", dev.Endpoint)
	}
	b.adopt(dev, true)
}

// adopt applies the rules to a device the first time it is seen and
// publishes its discovery message. Nothing is applied once Stop has begun.
//
// With reregister set, a registration ID different from the one the rules
// were applied for means the device registered again, possibly with other
// object instances: its observations and poll entries are released and the
// rules applied afresh.
func (b *Bridge) adopt(dev leshan.Device, reregister bool) {
	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	regID, done := b.applied[dev.Endpoint]
	if done && (!reregister || regID == dev.RegistrationID) {
		b.mu.Unlock()
		return
	}
	b.applied[dev.Endpoint] = dev.RegistrationID
	var stale []observation
	if done {
		kept := make([]observation, 0, len(b.observations))
		for _, o := range b.observations {
			if o.device.Endpoint == dev.Endpoint {
				stale = append(stale, o)
			} else {
				kept = append(kept, o)
			}
		}
		b.observations = kept
	}
	b.mu.Unlock()

	if done {
		b.getLogger().Info("device re-registered",
			"endpoint", dev.Endpoint,
			"registration", dev.RegistrationID,
			"released", len(stale),
		)
		b.release(dev.Endpoint, stale)
	}

	msg := b.applyRules(dev)
	b.publishDiscovery(dev, msg)
}

// release cancels observations and drops the endpoint's poll entries.
func (b *Bridge) release(endpoint string, observations []observation) {
	ctx, cancel := context.WithTimeout(b.ctx, cancelTimeout)
	defer cancel()
	for _, o := range observations {
		b.leshan.Cancel(ctx, o.device, o.instance, o.resourceID)
	}
	if b.polls != nil {
		b.polls.RemoveFromPollList(endpoint)
	}
}

// applyRules observes and polls the device's instances per the rules.
// It returns the discovery message describing what was set up.
func (b *Bridge) applyRules(dev leshan.Device) DiscoveryMessage {
	msg := DiscoveryMessage{
		Endpoint:       dev.Endpoint,
		RegistrationID: dev.RegistrationID,
		Version:        dev.Version,
		BindingMode:    dev.BindingMode,
		Lifetime:       dev.Lifetime,
		Instances:      make([]string, 0, len(dev.ObjectInstances)),
	}
	for _, oi := range dev.ObjectInstances {
		msg.Instances = append(msg.Instances, oi.String())
	}

	var pollInstances []leshan.ObjectInstance
	for _, rule := range b.rules.Objects {
		for _, oi := range dev.InstancesOf(rule.ObjectID) {
			for _, res := range rule.Observe {
				if err := b.leshan.Observe(b.ctx, dev, oi, res, b.onNotification); err != nil {
					b.failures.Add(1)
					b.getLogger().Warn("observe failed",
						"endpoint", dev.Endpoint,
						"resource", oi.ResourcePath(res),
						"error", err,
					)
					continue
				}
				// Stop cancels b.ctx before collecting b.observations, so an
				// observation made after that must be cancelled here.
				b.mu.Lock()
				stopping := b.ctx.Err() != nil
				if !stopping {
					b.observations = append(b.observations, observation{device: dev, instance: oi, resourceID: res})
				}
				b.mu.Unlock()
				if stopping {
					ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
					b.leshan.Cancel(ctx, dev, oi, res)
					cancel()
					continue
				}
				msg.Observed = append(msg.Observed, oi.ResourcePath(res))
			}
			if len(rule.Poll) > 0 {
				pollInstances = append(pollInstances, oi)
				msg.Polled = append(msg.Polled, oi.String())
			}
		}
	}

	if len(pollInstances) > 0 && b.polls != nil {
		b.polls.AddToPollList(dev, pollInstances...)
	}

	b.getLogger().Debug("rules applied",
		"endpoint", dev.Endpoint,
		"observed", len(msg.Observed),
		"polled", len(msg.Polled),
	)
	return msg
}

// publishDiscovery completes msg with device info when /3/0 is readable
// and publishes it retained.
func (b *Bridge) publishDiscovery(dev leshan.Device, msg DiscoveryMessage) {
	if dev.HasInstance(leshan.ObjectInstance{ObjectID: leshan.DeviceObjectID}) {
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		info, err := b.leshan.ReadDeviceInfo(ctx, dev)
		cancel()
		if err != nil {
			b.getLogger().Debug("device info unavailable", "endpoint", dev.Endpoint, "error", err)
		} else {
			msg.Info = &info
		}
	}
	msg.Timestamp = b.now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		b.getLogger().Error("failed to marshal discovery", "endpoint", dev.Endpoint, "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Discovery(dev.Endpoint), payload, 1, true); err != nil {
		b.failures.Add(1)
		b.getLogger().Warn("failed to publish discovery", "endpoint", dev.Endpoint, "error", err)
	}
}

// onNotification is the observe callback for every rule resource.
func (b *Bridge) onNotification(dev leshan.Device, oi leshan.ObjectInstance, v leshan.ResourceValue) {
	b.notifications.Add(1)
	b.remember(dev.Endpoint, oi, v)
	b.publishValue(dev.Endpoint, oi, v, history.SourceNotify)
}

// HandleSnapshot publishes the poll resources of a snapshot. Values equal
// to the last published value are skipped. Devices seen in the snapshot
// that the bridge has not adopted yet are adopted.
func (b *Bridge) HandleSnapshot(snap *poller.Snapshot) {
	for _, dev := range snap.Devices() {
		b.adopt(dev, false)
	}

	results := snap.Results()
	for _, r := range results {
		rule, ok := b.rules.Lookup(r.Instance.ObjectID)
		if !ok {
			continue
		}
		for _, v := range r.Values {
			if !rule.Polls(v.ID) || !b.remember(r.Device.Endpoint, r.Instance, v) {
				continue
			}
			b.polledValues.Add(1)
			b.publishValue(r.Device.Endpoint, r.Instance, v, history.SourcePoll)
		}
	}

	b.health.RecordPoll(snap.Taken(), nil)
	if b.metrics != nil {
		b.metrics.WritePollCycle(len(snap.Devices()), len(results), snap.Duration(), true, snap.Taken())
	}
}

// HandlePollError records a failed poll cycle.
func (b *Bridge) HandlePollError(err error) {
	now := b.now()
	b.failures.Add(1)
	b.health.RecordPoll(now, err)
	if b.metrics != nil {
		b.metrics.WritePollCycle(0, 0, 0, false, now)
	}
}

// remember caches v and reports whether it differs from the cached value.
func (b *Bridge) remember(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue) bool {
	key := endpoint + oi.ResourcePath(v.ID)

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	if prev, ok := b.stateCache[key]; ok && prev == v.Value {
		return false
	}
	b.stateCache[key] = v.Value
	return true
}

// publishValue fans one value out to MQTT, metrics, history and the hub.
func (b *Bridge) publishValue(endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, source history.Source) {
	logger := b.getLogger()
	msg := NewStateMessage(endpoint, oi, v, source, b.now())

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal state", "endpoint", endpoint, "resource", msg.Path, "error", err)
		return
	}
	topic := mqtt.Topics{}.State(endpoint, oi.ObjectID, oi.InstanceID, v.ID)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.failures.Add(1)
		logger.Warn("failed to publish state", "topic", topic, "error", err)
	}

	if b.metrics != nil {
		b.metrics.WriteResource(endpoint, oi, v, msg.Timestamp)
	}
	if b.history != nil {
		if err := b.history.Record(b.ctx, endpoint, oi, v, source); err != nil {
			b.failures.Add(1)
			logger.Warn("failed to record reading", "endpoint", endpoint, "resource", msg.Path, "error", err)
		}
	}
	if b.hub != nil {
		b.hub.Broadcast(NotificationChannel, msg)
	}
}

// handleCommand turns an MQTT command into a write.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.commands.Add(1)
	if err := b.executeCommand(topic, payload); err != nil {
		b.failures.Add(1)
		return err
	}
	return nil
}

func (b *Bridge) executeCommand(topic string, payload []byte) error {
	category, addr, err := mqtt.ParseResourceTopic(topic)
	if err != nil {
		return err
	}
	if category != "command" {
		return fmt.Errorf("%w: %q is not a command topic", mqtt.ErrInvalidTopic, topic)
	}

	oi := leshan.ObjectInstance{ObjectID: addr.ObjectID, InstanceID: addr.InstanceID}
	path := addr.Endpoint + oi.ResourcePath(addr.ResourceID)

	rule, ok := b.rules.Lookup(addr.ObjectID)
	if !ok || !rule.Writable {
		return fmt.Errorf("%w: %s", ErrNotWritable, path)
	}

	dev, ok := b.leshan.Directory().Lookup(addr.Endpoint)
	if !ok || !dev.HasInstance(oi) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, path)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCommand, path, err)
	}
	kind, err := leshan.ParseKind(cmd.Type)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCommand, path, err)
	}
	value, err := leshan.NewResourceValue(addr.ResourceID, kind, cmd.Value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCommand, path, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := b.leshan.Write(ctx, dev, oi, []leshan.ResourceValue{value}); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if b.history != nil {
		if err := b.history.Record(b.ctx, addr.Endpoint, oi, value, history.SourceWrite); err != nil {
			b.getLogger().Warn("failed to record write", "resource", path, "error", err)
		}
	}
	b.getLogger().Info("command written", "resource", path, "value", value.String())
	return nil
}
