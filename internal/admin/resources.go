package admin

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

type resource struct {
	uri         string
	name        string
	description string
	read        func() any
}

func (a *Admin) resources() []resource {
	return []resource{
		{"shop://products", "Products", "Merged product catalog", func() any { return a.shop.Catalog.Products() }},
		{"shop://orders", "Orders", "Every order in the order book", func() any { return a.shop.Orders.All() }},
		{"shop://settings", "Website Settings", "Editable site copy", func() any { return a.shop.Settings.Get() }},
		{"shop://notifications", "Order Notifications", "Recorded order mailto links", func() any { return a.shop.Notifier.Notifications() }},
		{"shop://newsletter", "Newsletter", "Newsletter subscribers", func() any { return a.shop.Newsletter.Subscribers() }},
	}
}

func (a *Admin) registerResources() {
	for _, r := range a.resources() {
		a.server.AddResource(
			mcp.NewResource(r.uri, r.name,
				mcp.WithResourceDescription(r.description),
				mcp.WithMIMEType("application/json"),
			),
			a.resourceHandler(r),
		)
	}
}

func (a *Admin) resourceHandler(r resource) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := toJSON(r.read())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      r.uri,
				MIMEType: "application/json",
				Text:     text,
			},
		}, nil
	}
}
