package session

import "errors"

// ErrNotWaiting rejects commands that require a queued driver.
var ErrNotWaiting = errors.New("driver is not waiting in the queue")
