package cachemux

import "time"

// coalesce returns def when v is the zero value of T, otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func coalesceDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
