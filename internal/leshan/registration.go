package leshan

import (
	"context"
	"time"
)

// RegistrationListener follows the server-wide event feed and reports
// every REGISTRATION event as a Device.
//
// It does not consult the Directory: re-registrations of known endpoints
// are reported too, and the callback decides what is new.
type RegistrationListener struct {
	streamer Streamer
	backoff  time.Duration
	logger   Logger
	after    func(time.Duration) <-chan time.Time
}

// NewRegistrationListener creates a listener that reads from streamer.
func NewRegistrationListener(streamer Streamer, backoff time.Duration, logger Logger) *RegistrationListener {
	return &RegistrationListener{
		streamer: streamer,
		backoff:  backoff,
		logger:   loggerOrNoop(logger),
	}
}

// Run blocks, invoking cb for each registration, until ctx is cancelled.
// Stream failures are logged and retried with the same policy as the
// per-endpoint streams.
func (rl *RegistrationListener) Run(ctx context.Context, cb func(Device)) {
	l := NewStreamListener(StreamOptions{
		Name:      "registrations",
		Path:      eventPath,
		EventType: EventRegistration,
		Handler: func(ev Event) error {
			dev, err := DecodeDevice([]byte(ev.Data))
			if err != nil {
				return err
			}
			rl.logger.Debug("device registered", "endpoint", dev.Endpoint)
			cb(dev)
			return nil
		},
		Streamer: rl.streamer,
		Backoff:  rl.backoff,
		Logger:   rl.logger,
		after:    rl.after,
	})
	l.Run(ctx)
}
