package cache

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/leonardcser/ttl-cache/internal/store"
)

// ioTimeout bounds one request/response exchange, compaction included.
const ioTimeout = 30 * time.Second

// Client implements KV over a Unix socket for one namespace.
type Client struct {
	socketPath string
	namespace  string
	timeout    time.Duration
}

func NewClient(socketPath, namespace string) *Client {
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	return &Client{socketPath: socketPath, namespace: namespace, timeout: 500 * time.Millisecond}
}

// WithNamespace returns a client for another namespace on the same daemon.
func (c *Client) WithNamespace(namespace string) *Client {
	return NewClient(c.socketPath, namespace)
}

// Namespace returns the namespace requests are sent to.
func (c *Client) Namespace() string { return c.namespace }

func (c *Client) do(req Request) (Response, error) {
	req.Namespace = c.namespace
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func (c *Client) Get(key string) (json.RawMessage, bool, error) {
	resp, err := c.do(Request{Op: OpGet, Key: key})
	if err != nil || !resp.Found {
		return nil, false, err
	}
	return resp.Value, true, nil
}

// Put sends ttl as seconds; values NormalizeTTL rejects are dropped so the
// daemon applies its default.
func (c *Client) Put(key string, value json.RawMessage, ttl any) error {
	req := Request{Op: OpSet, Key: key, Value: value}
	if d, ok := NormalizeTTL(ttl); ok {
		req.TTL = d.Seconds()
	}
	_, err := c.do(req)
	return err
}

func (c *Client) Delete(key string) (bool, error) {
	resp, err := c.do(Request{Op: OpDelete, Key: key})
	return resp.Removed, err
}

func (c *Client) TTL(key string) (TTLInfo, error) {
	resp, err := c.do(Request{Op: OpTTL, Key: key})
	if err != nil {
		return TTLInfo{Key: key}, err
	}
	if resp.TTL == nil {
		return TTLInfo{Key: key}, nil
	}
	return *resp.TTL, nil
}

func (c *Client) All() (map[string]json.RawMessage, error) {
	resp, err := c.do(Request{Op: OpAll})
	if err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		return map[string]json.RawMessage{}, nil
	}
	return resp.Entries, nil
}

func (c *Client) Save(compact bool) error {
	_, err := c.do(Request{Op: OpSave, Compact: compact})
	return err
}

func (c *Client) Destroy() error {
	_, err := c.do(Request{Op: OpDestroy})
	return err
}
