package shop

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/reconcile"
)

const ordersKey = "orders"

var (
	ErrEmptyCart       = errors.New("shop: cart is empty")
	ErrInvalidCheckout = errors.New("shop: invalid checkout")
	ErrOrderNotFound   = errors.New("shop: order not found")
	ErrInvalidStatus   = errors.New("shop: invalid order status")
)

// CheckoutForm is what the customer enters at checkout.
type CheckoutForm struct {
	Email            string
	Name             string
	Address1         string
	Address2         string
	City             string
	State            string
	PostalCode       string
	Country          string
	PaymentMethod    PaymentMethod
	PaymentReference string
	CustomerNote     string
	AgreeToTerms     bool
}

func (f CheckoutForm) validate() error {
	switch {
	case !f.AgreeToTerms:
		return fmt.Errorf("%w: terms not accepted", ErrInvalidCheckout)
	case !strings.Contains(f.Email, "@"):
		return fmt.Errorf("%w: email required", ErrInvalidCheckout)
	case strings.TrimSpace(f.Name) == "":
		return fmt.Errorf("%w: name required", ErrInvalidCheckout)
	case strings.TrimSpace(f.Address1) == "" || strings.TrimSpace(f.City) == "":
		return fmt.Errorf("%w: address required", ErrInvalidCheckout)
	}
	return nil
}

// Orders is the order book, synchronized under the "orders" key.
type Orders struct {
	config   *config.Config
	state    *reconcile.State[[]Order]
	notifier *Notifier
	now      func() time.Time
}

func NewOrders(cfg *config.Config, e *reconcile.Engine, notifier *Notifier) *Orders {
	return &Orders{
		config:   cfg,
		state:    reconcile.Use(e, ordersKey, []Order{}),
		notifier: notifier,
		now:      time.Now,
	}
}

func (o *Orders) All() []Order {
	return o.state.Get()
}

// Checkout turns the cart into an order awaiting payment, records the
// notification and empties the cart.
func (o *Orders) Checkout(cart *Cart, form CheckoutForm) (Order, error) {
	items := cart.Items()
	if len(items) == 0 {
		return Order{}, ErrEmptyCart
	}
	if err := form.validate(); err != nil {
		return Order{}, err
	}
	if form.PaymentMethod == "" {
		form.PaymentMethod = PayCashApp
	}
	if form.Country == "" {
		form.Country = "United States"
	}

	created := o.now()
	id := NewOrderID(created)
	subtotal := 0.0
	for _, it := range items {
		subtotal += it.UnitPrice * float64(it.Quantity)
	}
	shipping := o.config.Shop.ShippingCost
	now := Timestamp(created)

	order := Order{
		ID:                   id,
		Email:                form.Email,
		ShippingName:         form.Name,
		ShippingAddressLine1: form.Address1,
		ShippingAddressLine2: form.Address2,
		ShippingCity:         form.City,
		ShippingState:        form.State,
		ShippingPostalCode:   form.PostalCode,
		ShippingCountry:      form.Country,
		Status:               OrderAwaitingPayment,
		PaymentMethod:        form.PaymentMethod,
		PaymentReference:     form.PaymentReference,
		Subtotal:             subtotal,
		ShippingCost:         shipping,
		TaxAmount:            0,
		Total:                subtotal + shipping,
		CustomerNote:         form.CustomerNote,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, it := range items {
		order.Items = append(order.Items, OrderItem{
			ID:           id + "-" + it.ProductID,
			OrderID:      id,
			ProductID:    it.ProductID,
			NameSnapshot: it.Product.Name,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
		})
	}

	o.state.Update(func(cur []Order) []Order {
		return append(cur, order)
	})
	o.config.Log(1, "shop: order %s placed by %s total %s", id, form.Email, FormatPrice(order.Total))

	if o.notifier != nil {
		if _, err := o.notifier.OrderPlaced(order); err != nil {
			o.config.Log(0, "shop: error recording order notification for %s: %v", id, err)
		}
	}
	cart.Clear()
	return order, nil
}

// SetStatus changes an order's status and records who changed it.
func (o *Orders) SetStatus(id string, status OrderStatus, by string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if _, ok := o.Find(id); !ok {
		return ErrOrderNotFound
	}
	now := Timestamp(o.now())
	o.state.Update(func(cur []Order) []Order {
		for i := range cur {
			if cur[i].ID == id {
				cur[i].Status = status
				cur[i].UpdatedAt = now
				cur[i].StatusUpdatedBy = by
			}
		}
		return cur
	})
	return nil
}

func (o *Orders) Find(id string) (Order, bool) {
	for _, order := range o.All() {
		if order.ID == id {
			return order, true
		}
	}
	return Order{}, false
}

// ForEmail returns a customer's orders, newest last.
func (o *Orders) ForEmail(email string) []Order {
	var out []Order
	for _, order := range o.All() {
		if strings.EqualFold(order.Email, email) {
			out = append(out, order)
		}
	}
	return out
}

func (o *Orders) Close() {
	o.state.Close()
}
