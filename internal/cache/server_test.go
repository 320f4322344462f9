package cache

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/ttl-cache/internal/metrics"
	"github.com/leonardcser/ttl-cache/internal/store"
)

func newTestServer(t *testing.T, defaultTTL any) *Server {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	s := NewServer(dir, defaultTTL, metrics.New())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// startDaemon serves s on a short-lived unix socket; socket paths are length
// limited so the socket does not live under t.TempDir.
func startDaemon(t *testing.T, s *Server) string {
	t.Helper()
	sockDir, err := os.MkdirTemp("", "ttlc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })
	sock := filepath.Join(sockDir, "c.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return sock
}

func TestServer_Handle(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.Handle(Request{Op: OpSet, Namespace: "n", Key: "k", Value: json.RawMessage(`"v"`), TTL: 60.0})
	require.True(t, resp.OK, resp.Error)

	resp = s.Handle(Request{Op: OpGet, Namespace: "n", Key: "k"})
	require.True(t, resp.OK)
	assert.True(t, resp.Found)
	assert.JSONEq(t, `"v"`, string(resp.Value))

	resp = s.Handle(Request{Op: OpTTL, Namespace: "n", Key: "k"})
	require.True(t, resp.OK)
	require.NotNil(t, resp.TTL)
	assert.NotNil(t, resp.TTL.Expires)

	resp = s.Handle(Request{Op: OpAll, Namespace: "n"})
	require.True(t, resp.OK)
	assert.Len(t, resp.Entries, 1)

	resp = s.Handle(Request{Op: OpSave, Namespace: "n", Compact: true})
	assert.True(t, resp.OK, resp.Error)

	resp = s.Handle(Request{Op: OpDelete, Namespace: "n", Key: "k"})
	require.True(t, resp.OK)
	assert.True(t, resp.Removed)

	resp = s.Handle(Request{Op: OpGet, Namespace: "n", Key: "k"})
	require.True(t, resp.OK)
	assert.False(t, resp.Found)

	resp = s.Handle(Request{Op: OpDestroy, Namespace: "n"})
	assert.True(t, resp.OK, resp.Error)
}

func TestServer_HandleErrors(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.Handle(Request{Op: "bogus"})
	assert.False(t, resp.OK)
	assert.Equal(t, "unknown op", resp.Error)

	resp = s.Handle(Request{Op: OpGet, Namespace: "../escape", Key: "k"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "invalid namespace")
}

func TestServer_UnknownOpOpensNothing(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.Handle(Request{Op: "bogus", Namespace: "fresh", Key: "k"})
	assert.False(t, resp.OK)
	assert.Equal(t, "unknown op", resp.Error)

	assert.NoFileExists(t, store.FilePath("fresh", s.dir))
	assert.Empty(t, s.caches)
	n, err := testutil.GatherAndCount(s.metrics.Registry(), metrics.MetricOperationsTotal)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_CloseRefusesNewNamespaces(t *testing.T) {
	s := newTestServer(t, nil)
	require.True(t, s.Handle(Request{Op: OpSet, Namespace: "early", Key: "k", Value: json.RawMessage(`1`)}).OK)
	require.NoError(t, s.Close())

	resp := s.Handle(Request{Op: OpGet, Namespace: "late", Key: "k"})
	assert.False(t, resp.OK)
	assert.Equal(t, ErrServerClosed.Error(), resp.Error)
	assert.NoFileExists(t, store.FilePath("late", s.dir))
	assert.Empty(t, s.caches)
}

func TestServe_DrainsConnectionsOnShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	sockDir, err := os.MkdirTemp("", "ttlc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })
	l, err := net.Listen("unix", filepath.Join(sockDir, "c.sock"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	// An idle peer keeps its handler blocked on the next read.
	conn, err := net.Dial("unix", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, json.NewEncoder(conn).Encode(Request{Op: OpSet, Namespace: "n", Key: "k", Value: json.RawMessage(`1`)}))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.True(t, resp.OK, resp.Error)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return with an idle connection open")
	}
	assert.Empty(t, s.conns)
	require.NoError(t, s.Close())
}

func TestServer_DefaultTTLAppliesToSet(t *testing.T) {
	s := newTestServer(t, 30.0)

	resp := s.Handle(Request{Op: OpSet, Key: "k", Value: json.RawMessage(`1`)})
	require.True(t, resp.OK, resp.Error)

	resp = s.Handle(Request{Op: OpTTL, Key: "k"})
	require.True(t, resp.OK)
	require.NotNil(t, resp.TTL.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), *resp.TTL.ExpiresAt, 5*time.Second)
}

func TestClient_RoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	sock := startDaemon(t, s)
	client := NewClient(sock, "web")

	require.NoError(t, client.Put("p", json.RawMessage(`"1"`), nil))
	require.NoError(t, client.Put("q", json.RawMessage(`"2"`), time.Minute))

	v, found, err := client.Get("p")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `"1"`, string(v))

	all, err := client.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	info, err := client.TTL("q")
	require.NoError(t, err)
	require.NotNil(t, info.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *info.ExpiresAt, 5*time.Second)

	info, err = client.TTL("p")
	require.NoError(t, err)
	assert.Nil(t, info.Expires)

	removed, err := client.Delete("p")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = client.Delete("p")
	require.NoError(t, err)
	assert.False(t, removed)

	_, found, err = client.WithNamespace("other").Get("q")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Save(false))
	require.NoError(t, client.Destroy())
	all, err = client.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClient_ExpiredEntryCountsEviction(t *testing.T) {
	s := newTestServer(t, nil)
	sock := startDaemon(t, s)
	client := NewClient(sock, "short")

	require.NoError(t, client.Put("k", json.RawMessage(`true`), 10*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, found, err := client.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	expected := `
# HELP ttl_cache_lazy_evictions_total Expired entries removed on read.
# TYPE ttl_cache_lazy_evictions_total counter
ttl_cache_lazy_evictions_total{namespace="short"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(s.metrics.Registry(), strings.NewReader(expected), metrics.MetricEvictionsTotal))
}

func TestClient_ServerError(t *testing.T) {
	s := newTestServer(t, nil)
	sock := startDaemon(t, s)

	err := NewClient(sock, "n").Put("", json.RawMessage(`1`), nil)
	assert.Error(t, err, "bolt rejects empty keys")
}

func TestClient_DialFailure(t *testing.T) {
	_, _, err := NewClient(filepath.Join(t.TempDir(), "missing.sock"), "").Get("k")
	assert.Error(t, err)
}
