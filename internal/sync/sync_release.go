//go:build !deadlock

// Package sync holds the lock types used by the broadcast core. Building
// with -tags deadlock swaps them for go-deadlock versions.
package sync

import "sync"

// DeadlockDetection reports whether locks are instrumented.
const DeadlockDetection = false

// Mutex guards a channel's publish order and a connection's outbound queue.
type Mutex = sync.Mutex

// RWMutex guards read-mostly state such as the registry maps.
type RWMutex = sync.RWMutex
