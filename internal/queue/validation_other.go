//go:build !linux && !darwin && !freebsd && !dragonfly && !windows

package queue

import "math"

// availableBytes reports unlimited space where no statfs call is available.
func availableBytes(string) (uint64, error) {
	return math.MaxUint64, nil
}
