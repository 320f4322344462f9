package store

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// ErrCorrupt is returned when a stored record is shorter than its header.
var ErrCorrupt = errors.New("store: corrupt entry")

const headerSize = 8

// Instants representable as int64 nanoseconds since the Unix epoch.
var (
	minExpiry = time.Unix(0, math.MinInt64)
	maxExpiry = time.Unix(0, math.MaxInt64)
)

// Entry is the envelope kept under every key: an optional absolute expiry
// and the encoded payload. A zero Expires means the entry never expires.
type Entry struct {
	Expires time.Time
	Value   []byte
}

// Expired reports whether the entry's expiry lies strictly before now.
func (e Entry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && now.After(e.Expires)
}

// Layout: 8 bytes big endian expiry in unix nanoseconds (0 = never) || raw value.
// Expiries past 2262 are stored as the largest representable instant.
func encodeEntry(e Entry) []byte {
	var ns int64
	if !e.Expires.IsZero() {
		switch {
		case e.Expires.After(maxExpiry):
			ns = math.MaxInt64
		case e.Expires.Before(minExpiry):
			ns = math.MinInt64
		default:
			ns = e.Expires.UnixNano()
		}
		if ns == 0 {
			// 0 is reserved for "never"; the epoch itself is already in the past.
			ns = -1
		}
	}
	buf := make([]byte, headerSize+len(e.Value))
	binary.BigEndian.PutUint64(buf[:headerSize], uint64(ns))
	copy(buf[headerSize:], e.Value)
	return buf
}

// decodeEntry copies out of b, which bolt only keeps valid for the transaction.
func decodeEntry(b []byte) (Entry, error) {
	if len(b) < headerSize {
		return Entry{}, ErrCorrupt
	}
	var e Entry
	if ns := int64(binary.BigEndian.Uint64(b[:headerSize])); ns != 0 {
		e.Expires = time.Unix(0, ns).UTC()
	}
	e.Value = append([]byte(nil), b[headerSize:]...)
	return e, nil
}
