package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leonardcser/ttl-cache/internal/logger"
	"github.com/leonardcser/ttl-cache/internal/metrics"
	"github.com/leonardcser/ttl-cache/internal/store"
)

// ErrServerClosed is returned for requests that need a namespace after Close.
var ErrServerClosed = errors.New("cache: server closed")

// Server answers protocol requests, keeping one Cache per namespace open
// under a single directory.
type Server struct {
	dir        string
	defaultTTL any
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu     sync.Mutex
	caches map[string]*Cache[json.RawMessage]
	closed bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer creates a server storing namespaces in dir. defaultTTL applies to
// set requests without a valid ttl; m may be nil.
func NewServer(dir string, defaultTTL any, m *metrics.Metrics) *Server {
	return &Server{
		dir:        dir,
		defaultTTL: defaultTTL,
		metrics:    m,
		log:        logger.WithComponent("cache.server"),
		caches:     make(map[string]*Cache[json.RawMessage]),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or l is closed. Before
// returning it closes open connections and waits for their handlers, so no
// request is still running when Close is called afterwards.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer s.drain()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.track(conn)
		go func() {
			defer s.untrack(conn)
			s.HandleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	s.wg.Done()
}

// drain unblocks handlers waiting on idle peers and waits for all of them.
func (s *Server) drain() {
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
}

// HandleConn serves requests on conn until the peer hangs up.
func (s *Server) HandleConn(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(s.Handle(req)); err != nil {
			return
		}
	}
}

// Handle executes a single request.
func (s *Server) Handle(req Request) Response {
	if !knownOp(req.Op) {
		s.log.Warn().Str("op", req.Op).Msg("unknown op")
		return Response{Error: "unknown op"}
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	c, err := s.cache(namespace)
	if err != nil {
		s.metrics.ObserveOperation(namespace, req.Op, metrics.StatusError)
		return Response{Error: err.Error()}
	}

	resp, err := s.dispatch(c, req)
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Str("op", req.Op).Str("key", req.Key).Msg("request failed")
		s.metrics.ObserveOperation(namespace, req.Op, metrics.StatusError)
		return Response{Error: err.Error()}
	}
	status := metrics.StatusOK
	if req.Op == OpGet {
		status = metrics.StatusMiss
		if resp.Found {
			status = metrics.StatusHit
		}
	}
	s.metrics.ObserveOperation(namespace, req.Op, status)
	resp.OK = true
	return resp
}

func (s *Server) dispatch(c *Cache[json.RawMessage], req Request) (Response, error) {
	switch req.Op {
	case OpGet:
		v, found, err := c.Get(req.Key)
		return Response{Found: found, Value: v}, err
	case OpSet:
		return Response{}, c.Put(req.Key, req.Value, req.TTL)
	case OpDelete:
		removed, err := c.Delete(req.Key)
		return Response{Removed: removed}, err
	case OpTTL:
		info, err := c.TTL(req.Key)
		return Response{TTL: &info}, err
	case OpAll:
		entries, err := c.All()
		return Response{Entries: entries}, err
	case OpSave:
		return Response{}, c.Save(req.Compact)
	case OpDestroy:
		return Response{}, c.Destroy()
	default:
		return Response{}, errors.New("unknown op")
	}
}

func knownOp(op string) bool {
	switch op {
	case OpGet, OpSet, OpDelete, OpTTL, OpAll, OpSave, OpDestroy:
		return true
	}
	return false
}

func (s *Server) cache(namespace string) (*Cache[json.RawMessage], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	if c, ok := s.caches[namespace]; ok {
		return c, nil
	}
	c, err := Configure[json.RawMessage](Options{
		Namespace: namespace,
		Directory: s.dir,
		TTL:       s.defaultTTL,
		OnEvict:   func(string) { s.metrics.ObserveEviction(namespace) },
	})
	if err != nil {
		return nil, err
	}
	s.caches[namespace] = c
	s.metrics.SetNamespacesOpen(len(s.caches))
	s.log.Info().Str("namespace", namespace).Str("dir", c.Directory()).Msg("opened namespace")
	return c, nil
}

// Close flushes and releases every open namespace. Later requests are
// answered with ErrServerClosed.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	for namespace, c := range s.caches {
		if err := c.Save(false); err != nil {
			errs = append(errs, err)
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.caches, namespace)
	}
	s.metrics.SetNamespacesOpen(0)
	return errors.Join(errs...)
}
