package cache

import "encoding/json"

// KV defines the raw JSON cache contract shared by a local Cache and the
// daemon Client. Implementations must be safe for concurrent use by multiple
// goroutines.
type KV interface {
	Get(key string) (json.RawMessage, bool, error)
	Put(key string, value json.RawMessage, ttl any) error
	Delete(key string) (bool, error)
	TTL(key string) (TTLInfo, error)
	All() (map[string]json.RawMessage, error)
}

var (
	_ KV = (*Cache[json.RawMessage])(nil)
	_ KV = (*Client)(nil)
)
