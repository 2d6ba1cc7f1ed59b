package types

import "time"

// MinSyncInterval is the lowest polling interval the bridge will run at.
// Shorter configured intervals are clamped to this value to keep the cloud
// request rate bounded.
const MinSyncInterval = 15 * time.Second

// Config holds the static bridge configuration resolved from flags.
type Config struct {
	Email    string
	Password string
	Interval time.Duration
}

// SyncInterval returns the configured polling interval floored to
// MinSyncInterval.
func (c Config) SyncInterval() time.Duration {
	if c.Interval < MinSyncInterval {
		return MinSyncInterval
	}
	return c.Interval
}
