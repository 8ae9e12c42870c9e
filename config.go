package cachemux

import "time"

// Config is the process-level configuration surface from §6. Zero-value
// fields are filled in by DefaultConfig/normalize via the same
// coalesce-on-zero-value pattern the rest of the package uses.
type Config struct {
	DefaultExpire      time.Duration // default_expire_seconds
	DefaultLocalExpire time.Duration // default_local_expire_seconds
	SchedulerPoolSize  int           // scheduler_pool_size

	BloomExpectedInsertions uint      // bloom.expected_insertions
	BloomFalsePositiveRate  float64   // bloom.false_positive_rate

	HotKeyRetryCount         int           // hot_key.retry_count
	HotKeyRetryInterval      time.Duration // hot_key.retry_interval_ms
	HotKeyLockTimeout        time.Duration // hot_key.lock_timeout_seconds

	// MaxPayloadBytes bounds a single decoded entry, guarding both gzip
	// decompression and the generic decode path against oversized or
	// adversarial payloads read back from the remote tier. 0 disables the
	// limit.
	MaxPayloadBytes int
}

// DefaultConfig returns the §6 configuration-surface defaults.
func DefaultConfig() Config {
	return Config{
		DefaultExpire:            3600 * time.Second,
		DefaultLocalExpire:       600 * time.Second,
		SchedulerPoolSize:        5,
		BloomExpectedInsertions:  1_000_000,
		BloomFalsePositiveRate:   0.01,
		HotKeyRetryCount:         10,
		HotKeyRetryInterval:      50 * time.Millisecond,
		HotKeyLockTimeout:        5 * time.Second,
	}
}

// normalize fills any zero-valued field with the default, mirroring how
// Options[V] used to lean on coalesce per-field.
func (c Config) normalize() Config {
	d := DefaultConfig()
	c.DefaultExpire = coalesceDuration(c.DefaultExpire, d.DefaultExpire)
	c.DefaultLocalExpire = coalesceDuration(c.DefaultLocalExpire, d.DefaultLocalExpire)
	c.SchedulerPoolSize = coalesce(c.SchedulerPoolSize, d.SchedulerPoolSize)
	c.BloomExpectedInsertions = coalesce(c.BloomExpectedInsertions, d.BloomExpectedInsertions)
	c.BloomFalsePositiveRate = coalesce(c.BloomFalsePositiveRate, d.BloomFalsePositiveRate)
	c.HotKeyRetryCount = coalesce(c.HotKeyRetryCount, d.HotKeyRetryCount)
	c.HotKeyRetryInterval = coalesceDuration(c.HotKeyRetryInterval, d.HotKeyRetryInterval)
	c.HotKeyLockTimeout = coalesceDuration(c.HotKeyLockTimeout, d.HotKeyLockTimeout)
	return c
}
