package cache

import "encoding/json"

// Simple JSON protocol for the cache daemon over a Unix domain socket.
// Requests and responses alternate on a connection, one JSON value each.

// Operations understood by the daemon.
const (
	OpGet     = "get"
	OpSet     = "set"
	OpDelete  = "delete"
	OpTTL     = "ttl"
	OpAll     = "all"
	OpSave    = "save"
	OpDestroy = "destroy"
)

type Request struct {
	Op        string          `json:"op"`
	Namespace string          `json:"namespace,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	TTL       any             `json:"ttl,omitempty"` // seconds
	Compact   bool            `json:"compact,omitempty"`
}

type Response struct {
	OK      bool                       `json:"ok"`
	Found   bool                       `json:"found,omitempty"`
	Removed bool                       `json:"removed,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	TTL     *TTLInfo                   `json:"ttl,omitempty"`
	Entries map[string]json.RawMessage `json:"entries,omitempty"`
	Error   string                     `json:"error,omitempty"`
}
