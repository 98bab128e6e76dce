package poller

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// DefaultInterval is used when Options.Interval is not set.
const DefaultInterval = 30 * time.Second

// Source performs the directory refresh and reads. *leshan.Client
// implements it.
type Source interface {
	RefreshDevices(ctx context.Context) ([]leshan.Device, error)
	Read(ctx context.Context, dev leshan.Device, oi leshan.ObjectInstance, resourceID int) ([]leshan.ResourceValue, error)
}

// Logger defines the logging interface used by the Coordinator.
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

// Options configures a Coordinator.
type Options struct {
	// Interval between cycles. Zero means DefaultInterval.
	Interval time.Duration

	// Logger receives cycle diagnostics.
	Logger Logger

	// OnUpdate is called after each successful cycle with the new snapshot.
	OnUpdate func(*Snapshot)

	// OnError is called once for each failed cycle run by Run.
	OnError func(error)
}

// PollListEntry is one device and the instances to read from it.
type PollListEntry struct {
	Device    leshan.Device
	Instances []leshan.ObjectInstance
}

// Coordinator runs poll cycles and holds the latest Snapshot.
//
// Thread Safety: All methods are safe for concurrent use. Cycles never
// overlap.
type Coordinator struct {
	source   Source
	interval time.Duration
	logger   Logger
	onUpdate func(*Snapshot)
	onError  func(error)

	mu       sync.Mutex
	pollList []PollListEntry

	cycleMu sync.Mutex
	latest  atomic.Pointer[Snapshot]
	now     func() time.Time
}

// New creates a Coordinator reading from source.
func New(source Source, opts Options) *Coordinator {
	c := &Coordinator{
		source:   source,
		interval: opts.Interval,
		logger:   opts.Logger,
		onUpdate: opts.OnUpdate,
		onError:  opts.OnError,
		now:      time.Now,
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// AddToPollList appends a device and the instances to read from it.
func (c *Coordinator) AddToPollList(dev leshan.Device, instances ...leshan.ObjectInstance) {
	if len(instances) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollList = append(c.pollList, PollListEntry{
		Device:    dev,
		Instances: append([]leshan.ObjectInstance(nil), instances...),
	})
}

// RemoveFromPollList drops every entry for endpoint and returns how many
// were removed. A cycle already in progress is not affected.
func (c *Coordinator) RemoveFromPollList(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.pollList)
	c.pollList = slices.DeleteFunc(c.pollList, func(e PollListEntry) bool {
		return e.Device.Endpoint == endpoint
	})
	return before - len(c.pollList)
}

// PollList returns a copy of the poll list.
func (c *Coordinator) PollList() []PollListEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PollListEntry, len(c.pollList))
	copy(out, c.pollList)
	return out
}

// Latest returns the last successful snapshot, or nil before the first.
func (c *Coordinator) Latest() *Snapshot {
	return c.latest.Load()
}

// PollOnce runs one cycle.
//
// Returns:
//   - *Snapshot: The new snapshot, already published via Latest
//   - error: Wraps ErrUpdateFailed; Latest is unchanged
func (c *Coordinator) PollOnce(ctx context.Context) (*Snapshot, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	started := c.now()
	devices, err := c.source.RefreshDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: refreshing devices: %w", ErrUpdateFailed, err)
	}

	var results []Result
	for _, entry := range c.PollList() {
		for _, oi := range entry.Instances {
			values, err := c.source.Read(ctx, entry.Device, oi, leshan.AllResources)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s%s: %w", ErrUpdateFailed, entry.Device.Endpoint, oi, err)
			}
			results = append(results, Result{Device: entry.Device, Instance: oi, Values: values})
		}
	}

	taken := c.now()
	snap := newSnapshot(devices, results, taken, taken.Sub(started))
	c.latest.Store(snap)
	c.logger.Debug("poll cycle complete", "devices", len(devices), "results", len(results))

	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
	return snap, nil
}

// Run polls immediately and then every interval until ctx is cancelled.
// Failed cycles are logged and passed to OnError.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("poll cycle failed", "error", err)
			if c.onError != nil {
				c.onError(err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
