package poller

import "errors"

// ErrUpdateFailed wraps every failure that aborts a poll cycle.
var ErrUpdateFailed = errors.New("poller: update failed")
