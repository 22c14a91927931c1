package live

import "errors"

var (
	// ErrNotConnected is returned when the target connection is gone.
	ErrNotConnected = errors.New("live: client not connected")

	// ErrQueueBusy is returned when the target still has queued output.
	ErrQueueBusy = errors.New("live: client queue not empty")

	// ErrAllocFailed is returned when the frame buffer cannot be allocated.
	ErrAllocFailed = errors.New("live: frame allocation failed")
)
