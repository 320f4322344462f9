package main

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/ttl-cache/internal/cache"
	"github.com/leonardcser/ttl-cache/internal/config"
	"github.com/leonardcser/ttl-cache/internal/logger"
	tools "github.com/leonardcser/ttl-cache/internal/tools"
	web "github.com/leonardcser/ttl-cache/internal/web"
)

const daemonBinary = "ttl-cache-daemon"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting TTL cache MCP server")

	// Connect to cache daemon; start it if needed, then connect.
	logger.Infof("Attempting to connect to cache daemon at %s", cfg.Socket)
	client, err := connectCache(cfg.Socket)
	if err != nil {
		logger.Warnf("Failed to connect to cache daemon: %v, attempting to start daemon", err)
		if startErr := startCacheDaemon(); startErr != nil {
			logger.Errorf("Failed to start cache daemon: %v", startErr)
		} else {
			logger.Infof("Cache daemon started successfully")
		}
		// wait for socket to appear
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if c2, err2 := connectCache(cfg.Socket); err2 == nil {
				client, err = c2, nil
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if client == nil {
			logger.Errorf("Failed to connect to cache daemon after startup attempt: %v", err)
			panic(err)
		}
	}
	logger.Infof("Successfully connected to cache daemon")

	fetcher := web.NewFetcher(client.WithNamespace("web_fetch"), cfg.FetchTTL)
	searcher := web.NewSearcher(client.WithNamespace("web_search"), cfg.SearchTTL)
	kvFor := func(namespace string) cache.KV { return client.WithNamespace(namespace) }

	s := server.NewMCPServer(
		"TTL Cache",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	namespaceOpt := mcp.WithString("namespace", mcp.Description("Cache namespace (default \"default\")"))
	keyOpt := mcp.WithString("key", mcp.Required(), mcp.Description("Cache key"))

	s.AddTool(mcp.NewTool("cache-get",
		mcp.WithDescription("Returns the JSON value stored under a key, or null when it is missing or expired"),
		keyOpt, namespaceOpt,
	), tools.CacheGetHandler(kvFor))

	s.AddTool(mcp.NewTool("cache-set",
		mcp.WithDescription(multiline(
			"Stores a value under a key, replacing any previous value",
			"- The value is stored as JSON; text that is not valid JSON is stored as a string",
			"- ttl is in seconds; without it the daemon's default TTL applies, if any",
		)),
		keyOpt, namespaceOpt,
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value or plain text")),
		mcp.WithNumber("ttl", mcp.Description("Time to live in seconds")),
	), tools.CacheSetHandler(kvFor))

	s.AddTool(mcp.NewTool("cache-delete",
		mcp.WithDescription("Removes a key; returns whether it was present"),
		keyOpt, namespaceOpt,
	), tools.CacheDeleteHandler(kvFor))

	s.AddTool(mcp.NewTool("cache-ttl",
		mcp.WithDescription(multiline(
			"Reports when a key expires",
			"- expires is a human-readable relative time, expires_at the exact instant",
			"- Both are null when the key is missing, expired or never expires",
		)),
		keyOpt, namespaceOpt,
	), tools.CacheTTLHandler(kvFor))

	s.AddTool(mcp.NewTool("cache-list",
		mcp.WithDescription("Returns every live entry of a namespace as a JSON object; expired entries are evicted"),
		namespaceOpt,
	), tools.CacheListHandler(kvFor))
	logger.Infof("Registered cache tools")

	s.AddTool(mcp.NewTool("web-fetch",
		mcp.WithDescription(multiline(
			"Fetches content from a specified URL and returns the parsed content",
			"\nFunctionality:",
			"- Takes a URL as input",
			"- Returns the title, description, links and the page converted to Markdown",
			"\nUsage notes:",
			"- The URL must be a fully-formed valid URL",
			"- This tool is read-only and does not modify any files",
			"- Results are cached, so repeated fetches of the same URL are fast",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to fetch content from")),
	), tools.WebFetchHandler(fetcher))

	s.AddTool(mcp.NewTool("web-search",
		mcp.WithDescription(multiline(
			"Searches the web and returns a numbered list of results",
			"- Results are cached per query for a few minutes",
		)),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query to use")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (1-20, default 10)")),
	), tools.WebSearchHandler(searcher))
	logger.Infof("Registered web tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func connectCache(sock string) (*cache.Client, error) {
	// quick probe
	conn, err := net.DialTimeout("unix", sock, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	_ = conn.Close()
	return cache.NewClient(sock, ""), nil
}

func startCacheDaemon() error {
	candidates := []string{}
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), daemonBinary))
	}
	if path, err := exec.LookPath(daemonBinary); err == nil {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, "./"+daemonBinary)

	for _, bin := range candidates {
		if _, err := os.Stat(bin); err != nil {
			continue
		}
		cmd := exec.Command(bin)
		cmd.Env = os.Environ()
		return cmd.Start()
	}
	return exec.ErrNotFound
}
