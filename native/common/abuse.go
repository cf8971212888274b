package common

import (
	"errors"
	"math"
)

var (
	ErrRateLimited          = errors.New("anti-abuse: rate limited")
	ErrAbuseCounterOverflow = errors.New("anti-abuse: counter overflow")
)

// AbuseState captures the sliding-window usage counters for one actor.
type AbuseState struct {
	LastOpTime      uint64
	OpCountInWindow uint32
}

// AbuseConfig defines the process-wide anti-abuse limits. The lifecycle is set
// at contract initialization and mutable only through the admin capability.
// A MaxOpsPerWindow of zero disables limiting entirely.
type AbuseConfig struct {
	WindowLength     uint64
	MaxOpsPerWindow  uint32
	CooldownDuration uint64
	Whitelist        [][20]byte
}

// IsWhitelisted reports whether the actor is exempt from limiting.
func (c *AbuseConfig) IsWhitelisted(actor [20]byte) bool {
	if c == nil {
		return false
	}
	for _, entry := range c.Whitelist {
		if entry == actor {
			return true
		}
	}
	return false
}

// CheckAbuse verifies whether one more operation fits within the configured
// limits. The returned AbuseState reflects the updated counters when the
// operation is admitted; on rejection the previous counters are returned
// unchanged so the caller persists nothing.
//
// The window reset uses a strictly-greater comparison: an actor issuing
// operations spaced exactly at WindowLength boundaries sees the window reset
// rather than a rejection. Whitelist exemption is the caller's concern since
// this function never sees the actor identity.
func CheckAbuse(cfg AbuseConfig, prev AbuseState, now uint64) (AbuseState, error) {
	if cfg.MaxOpsPerWindow == 0 {
		return prev, nil
	}
	next := prev
	var elapsed uint64
	if now >= prev.LastOpTime {
		elapsed = now - prev.LastOpTime
	}
	if elapsed > cfg.WindowLength {
		next.OpCountInWindow = 0
	}
	if next.OpCountInWindow >= cfg.MaxOpsPerWindow && elapsed < cfg.CooldownDuration {
		return prev, ErrRateLimited
	}
	if next.OpCountInWindow == math.MaxUint32 {
		return prev, ErrAbuseCounterOverflow
	}
	next.OpCountInWindow++
	next.LastOpTime = now
	return next, nil
}
