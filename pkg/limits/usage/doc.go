// Package usage keeps per-(feature, scope) usage counters and cooldown
// start times in memory and persists them through a storage.Backend.
//
// # Persistence
//
// With a zero FlushInterval every mutation is written through before the
// call returns. With a positive interval mutations mark the key dirty and a
// single debounced flush writes all dirty keys once the interval elapses.
// Keys whose write fails stay dirty until a later flush succeeds.
//
// # Failure handling
//
// Backend read errors are fail-open: the caller receives a zero record and
// an error wrapping ErrRead, so a broken backend never blocks a feature.
package usage
