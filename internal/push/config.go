package push

import (
	"fmt"
	"time"
)

// Config defines configuration for the push adapter's queues and flush
// schedulers. The four disable switches short-circuit the corresponding
// public operations to an AdminDisabled result without touching the
// network.
type Config struct {
	// Interval between data flush cycles. The data timer is armed by an
	// enqueue and stays stopped while the queue is empty.
	DataFlushInterval time.Duration `toml:"data_flush_interval"`

	// Interval between status flush cycles. Status updates are
	// latency-sensitive, so this is typically much shorter than the data
	// interval.
	StatusFlushInterval time.Duration `toml:"status_flush_interval"`

	// Maximum time to wait for the status queue lock before giving up
	// with a LockTimeout result.
	StatusLockWait time.Duration `toml:"status_lock_wait"`

	// Buffer size of each subscriber's event channel.
	EventBufferSize int `toml:"event_buffer_size"`

	// Kill switches.
	DisableDataPush     bool `toml:"disable_data_push"`
	DisableStatusPush   bool `toml:"disable_status_push"`
	DisableAuth         bool `toml:"disable_auth"`
	DisableRecordUpload bool `toml:"disable_record_upload"`
}

// DefaultConfig returns push configuration defaults.
func DefaultConfig() Config {
	return Config{
		DataFlushInterval:   30 * time.Second,
		StatusFlushInterval: 5 * time.Second,
		StatusLockWait:      500 * time.Millisecond,
		EventBufferSize:     256,
	}
}

// validateConfig validates push configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.DataFlushInterval <= 0 {
		return fmt.Errorf("DataFlushInterval must be positive, got %v", config.DataFlushInterval)
	}

	if config.StatusFlushInterval <= 0 {
		return fmt.Errorf("StatusFlushInterval must be positive, got %v", config.StatusFlushInterval)
	}

	if config.StatusLockWait <= 0 {
		return fmt.Errorf("StatusLockWait must be positive, got %v", config.StatusLockWait)
	}

	if config.EventBufferSize <= 0 {
		return fmt.Errorf("EventBufferSize must be positive, got %v", config.EventBufferSize)
	}

	return nil
}
