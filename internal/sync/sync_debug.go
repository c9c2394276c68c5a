//go:build deadlock

// Package sync holds the lock types used by the broadcast core. Building
// with -tags deadlock swaps them for go-deadlock versions.
package sync

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether locks are instrumented.
const DeadlockDetection = true

// Mutex guards a channel's publish order and a connection's outbound queue.
type Mutex = deadlock.Mutex

// RWMutex guards read-mostly state such as the registry maps.
type RWMutex = deadlock.RWMutex

func init() {
	deadlock.Opts.DeadlockTimeout = 10 * time.Second

	// Disable deadlock detection if CHATCAST_NO_DEADLOCK_DETECT is set
	if os.Getenv("CHATCAST_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	// Registry, channel and connection locks nest (connection -> channel), so
	// report lock-order inversions as well as plain timeouts.
	deadlock.Opts.DisableLockOrderDetection = false
	deadlock.Opts.PrintAllCurrentGoroutines = true
	deadlock.Opts.LogBuf = os.Stderr

	println("[DEADLOCK DETECTION ENABLED] hub locks use go-deadlock")
}
