package tools

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/ttl-cache/internal/cache"
	"github.com/leonardcser/ttl-cache/internal/store"
)

// KVProvider returns the cache bound to a namespace.
type KVProvider func(namespace string) cache.KV

type handler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func namespaceArg(req mcp.CallToolRequest) string {
	return req.GetString("namespace", store.DefaultNamespace)
}

// CacheGetHandler returns the "cache-get" handler. Missing and expired keys
// yield the text null.
func CacheGetHandler(kvFor KVProvider) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		v, found, err := kvFor(namespaceArg(req)).Get(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !found {
			return mcp.NewToolResultText("null"), nil
		}
		return mcp.NewToolResultText(string(v)), nil
	}
}

// CacheSetHandler returns the "cache-set" handler. A value that is not valid
// JSON is stored as a JSON string.
func CacheSetHandler(kvFor KVProvider) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value := json.RawMessage(raw)
		if !json.Valid(value) {
			value, _ = json.Marshal(raw)
		}
		ttl := req.GetArguments()["ttl"]
		if err := kvFor(namespaceArg(req)).Put(key, value, ttl); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("OK"), nil
	}
}

// CacheDeleteHandler returns the "cache-delete" handler; the text is whether
// a key was removed.
func CacheDeleteHandler(kvFor KVProvider) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		removed, err := kvFor(namespaceArg(req)).Delete(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(strconv.FormatBool(removed)), nil
	}
}

// CacheTTLHandler returns the "cache-ttl" handler.
func CacheTTLHandler(kvFor KVProvider) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		info, err := kvFor(namespaceArg(req)).TTL(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(info)
	}
}

// CacheListHandler returns the "cache-list" handler: every live entry of the
// namespace as one JSON object.
func CacheListHandler(kvFor KVProvider) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := kvFor(namespaceArg(req)).All()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(entries)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
