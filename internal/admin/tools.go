package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/shopsync/internal/shop"
)

func (a *Admin) registerTools() {
	a.server.AddTool(mcp.NewTool("get_key",
		mcp.WithDescription("Read the reconciled JSON value of a synchronized key"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key name, e.g. cart or orders")),
	), a.getKey)

	a.server.AddTool(mcp.NewTool("set_key",
		mcp.WithDescription("Replace a synchronized key with a JSON value"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON document")),
	), a.setKey)

	a.server.AddTool(mcp.NewTool("delete_key",
		mcp.WithDescription("Delete a synchronized key from both stores"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key name")),
	), a.deleteKeyTool)

	a.server.AddTool(mcp.NewTool("list_keys",
		mcp.WithDescription("List the keys held in the local store"),
	), a.listKeys)

	a.server.AddTool(mcp.NewTool("list_orders",
		mcp.WithDescription("List orders, optionally filtered by status"),
		mcp.WithString("status", mcp.Description("pending, awaiting_payment, paid, shipped or cancelled")),
	), a.listOrders)

	a.server.AddTool(mcp.NewTool("set_order_status",
		mcp.WithDescription("Change an order's status"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Order id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status")),
		mcp.WithString("by", mcp.Description("Name recorded as the editor")),
	), a.setOrderStatus)

	a.server.AddTool(mcp.NewTool("reset_dataset",
		mcp.WithDescription("Drop local edits of a bundled dataset"),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("products or blog_posts")),
	), a.resetDataset)
}

func (a *Admin) getKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value := a.readKey(key)
	if len(value) == 0 {
		return mcp.NewToolResultText("null"), nil
	}
	return mcp.NewToolResultText(string(value)), nil
}

func (a *Admin) setKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !json.Valid([]byte(value)) {
		return mcp.NewToolResultError("value is not valid JSON"), nil
	}
	a.config.Log(2, "admin: set %s", key)
	a.writeKey(key, json.RawMessage(value))
	return mcp.NewToolResultText("ok"), nil
}

func (a *Admin) deleteKeyTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a.config.Log(2, "admin: delete %s", key)
	a.deleteKey(key)
	return mcp.NewToolResultText("ok"), nil
}

func (a *Admin) listKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := a.engine.Local().Keys()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(keys)
}

func (a *Admin) listOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := shop.OrderStatus(req.GetString("status", ""))
	orders := []shop.Order{}
	for _, o := range a.shop.Orders.All() {
		if status == "" || o.Status == status {
			orders = append(orders, o)
		}
	}
	return jsonResult(orders)
}

func (a *Admin) setOrderStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	by := req.GetString("by", "Unknown Admin")
	if err := a.shop.Orders.SetStatus(id, shop.OrderStatus(status), by); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a.engine.Settle()
	return mcp.NewToolResultText(fmt.Sprintf("order %s is now %s", id, status)), nil
}

func (a *Admin) resetDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dataset, err := req.RequireString("dataset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch dataset {
	case "products":
		err = a.shop.Catalog.ProductOverlay().Reset()
	case "blog_posts":
		err = a.shop.Catalog.PostOverlay().Reset()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown dataset %q", dataset)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := toJSON(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}
