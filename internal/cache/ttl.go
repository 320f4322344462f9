package cache

import (
	"encoding/json"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// NormalizeTTL interprets v as a time-to-live. Numbers are seconds and
// time.Duration is taken as is. Anything else, including negative, NaN and
// infinite values, reports ok=false ("no TTL"); it is never an error.
func NormalizeTTL(v any) (d time.Duration, ok bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case time.Duration:
		if t < 0 {
			return 0, false
		}
		return t, true
	case float64:
		return seconds(t)
	case float32:
		return seconds(float64(t))
	case int:
		return seconds(float64(t))
	case int8:
		return seconds(float64(t))
	case int16:
		return seconds(float64(t))
	case int32:
		return seconds(float64(t))
	case int64:
		return seconds(float64(t))
	case uint:
		return seconds(float64(t))
	case uint8:
		return seconds(float64(t))
	case uint16:
		return seconds(float64(t))
	case uint32:
		return seconds(float64(t))
	case uint64:
		return seconds(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return seconds(f)
	default:
		return 0, false
	}
}

func seconds(f float64) (time.Duration, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	ns := f * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(ns), true
}

// TTLInfo describes the remaining lifetime of a key.
//
// Expires is a humanized relative time ("5 seconds from now") meant for
// display only; it is not parseable. Programs should use ExpiresAt or
// Remaining. Both are nil when the key is absent, expired, or never expires.
type TTLInfo struct {
	Key       string     `json:"key"`
	Expires   *string    `json:"expires"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Remaining returns the time left until expiry relative to now, and false
// when the key has no expiry.
func (i TTLInfo) Remaining(now time.Time) (time.Duration, bool) {
	if i.ExpiresAt == nil {
		return 0, false
	}
	if d := i.ExpiresAt.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

func newTTLInfo(key string, expires, now time.Time) TTLInfo {
	info := TTLInfo{Key: key}
	if expires.IsZero() {
		return info
	}
	rel := humanize.RelTime(expires, now, "ago", "from now")
	at := expires
	info.Expires = &rel
	info.ExpiresAt = &at
	return info
}
