// Package scheduler detects cooldown expiry.
//
// Each armed key gets one precision timer from the injected clock. A cron
// driven sweep (default "@every 1s") compares armed fire times against the
// wall clock and expires anything the timers missed. The scheduler never
// touches usage state itself; it only hands expired keys to its ExpireFunc.
package scheduler
