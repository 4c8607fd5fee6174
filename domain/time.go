package domain

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// NextTimestamp returns a strictly increasing nanosecond timestamp. Commits
// stamp UpdatedAt with it so concurrent writers within one clock tick still
// order deterministically.
func NextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
