package shop

import (
	"slices"

	"github.com/zot/shopsync/internal/reconcile"
)

const cartKey = "cart"

// Cart is the shopper's cart, synchronized under the "cart" key.
type Cart struct {
	state *reconcile.State[[]CartItem]
}

func NewCart(e *reconcile.Engine) *Cart {
	return &Cart{state: reconcile.Use(e, cartKey, []CartItem{})}
}

func (c *Cart) Items() []CartItem {
	return c.state.Get()
}

// Add puts qty of product in the cart, merging with an existing line.
func (c *Cart) Add(product Product, qty int) {
	if qty <= 0 {
		return
	}
	c.state.Update(func(items []CartItem) []CartItem {
		for i := range items {
			if items[i].ProductID == product.ID {
				items[i].Quantity += qty
				return items
			}
		}
		return append(items, CartItem{
			ProductID: product.ID,
			Product:   product,
			Quantity:  qty,
			UnitPrice: product.Price,
		})
	})
}

// SetQuantity changes a line's quantity, capped at the product's stock.
// A quantity of zero or less removes the line.
func (c *Cart) SetQuantity(productID string, qty int) {
	if qty <= 0 {
		c.Remove(productID)
		return
	}
	c.state.Update(func(items []CartItem) []CartItem {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = min(qty, items[i].Product.StockQuantity)
			}
		}
		return items
	})
}

func (c *Cart) Remove(productID string) {
	c.state.Update(func(items []CartItem) []CartItem {
		return slices.DeleteFunc(items, func(it CartItem) bool { return it.ProductID == productID })
	})
}

func (c *Cart) Clear() {
	c.state.Set([]CartItem{})
}

func (c *Cart) Subtotal() float64 {
	total := 0.0
	for _, it := range c.Items() {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}

// Count returns the number of units in the cart.
func (c *Cart) Count() int {
	n := 0
	for _, it := range c.Items() {
		n += it.Quantity
	}
	return n
}

// OnChange observes the cart.
func (c *Cart) OnChange(fn func([]CartItem)) func() {
	return c.state.OnChange(fn)
}

func (c *Cart) Close() {
	c.state.Close()
}
