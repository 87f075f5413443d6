package shop

import (
	"context"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/overlay"
	"github.com/zot/shopsync/internal/reconcile"
)

// Shop bundles the storefront components over one engine.
type Shop struct {
	Catalog    *Catalog
	Cart       *Cart
	Orders     *Orders
	Newsletter *Newsletter
	Settings   *Settings
	Auth       *Auth
	Notifier   *Notifier
}

// Open wires every component and loads the catalog datasets.
func Open(ctx context.Context, cfg *config.Config, e *reconcile.Engine, loader *overlay.Loader) *Shop {
	store := e.Local()
	notifier := NewNotifier(store)
	s := &Shop{
		Catalog:    NewCatalog(cfg, loader, store),
		Cart:       NewCart(e),
		Orders:     NewOrders(cfg, e, notifier),
		Newsletter: NewNewsletter(e),
		Settings:   NewSettings(e),
		Auth:       NewAuth(cfg, store),
		Notifier:   notifier,
	}
	s.Catalog.Load(ctx)
	return s
}

// Close unmounts the synchronized components.
func (s *Shop) Close() {
	s.Cart.Close()
	s.Orders.Close()
	s.Newsletter.Close()
	s.Settings.Close()
}
