// Package admin exposes the shop's synchronized keys and back-office
// operations as MCP tools and resources.
package admin

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/reconcile"
	"github.com/zot/shopsync/internal/shop"
)

const version = "0.1.0"

// Admin is an MCP server over one engine and storefront.
type Admin struct {
	config *config.Config
	engine *reconcile.Engine
	shop   *shop.Shop
	server *server.MCPServer
}

// New registers the standard tools and resources.
func New(cfg *config.Config, e *reconcile.Engine, s *shop.Shop) *Admin {
	a := &Admin{
		config: cfg,
		engine: e,
		shop:   s,
		server: server.NewMCPServer("shopsync", version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	a.registerTools()
	a.registerResources()
	return a
}

// Server returns the underlying MCP server.
func (a *Admin) Server() *server.MCPServer {
	return a.server
}

// ServeStdio answers MCP requests on stdin/stdout until EOF.
func (a *Admin) ServeStdio() error {
	a.config.Log(1, "admin: serving MCP on stdio")
	return server.ServeStdio(a.server)
}

// readKey mounts key long enough to resolve its reconciled value.
func (a *Admin) readKey(key string) json.RawMessage {
	b := a.engine.Bind(key, nil)
	defer b.Close()
	a.engine.Settle()
	return b.Get()
}

func (a *Admin) writeKey(key string, value json.RawMessage) {
	b := a.engine.Bind(key, nil)
	defer b.Close()
	a.engine.Settle()
	b.Set(value)
	a.engine.Settle()
}

func (a *Admin) deleteKey(key string) {
	b := a.engine.Bind(key, nil)
	defer b.Close()
	a.engine.Settle()
	b.Delete()
	a.engine.Settle()
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(data), nil
}
