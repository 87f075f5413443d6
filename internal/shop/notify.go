package shop

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zot/shopsync/internal/local"
)

const (
	ShopEmail             = "hello@spookiki.com"
	orderNotificationsKey = "order_notifications"
	contactSubmissionsKey = "contact_submissions"
)

// Notifier builds mailto links for the operator and keeps a local log of
// orders and contact requests for the back office.
type Notifier struct {
	store *local.Store
	now   func() time.Time
}

func NewNotifier(store *local.Store) *Notifier {
	return &Notifier{store: store, now: time.Now}
}

// Mailto builds a mailto link with an escaped subject and body.
func Mailto(to, subject, body string) string {
	return fmt.Sprintf("mailto:%s?subject=%s&body=%s", to, escape(subject), escape(body))
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// OrderPlaced records a notification for order and returns it.
func (n *Notifier) OrderPlaced(order Order) (OrderNotification, error) {
	note := OrderNotification{
		OrderID:       order.ID,
		CustomerEmail: order.Email,
		CustomerName:  order.ShippingName,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Timestamp:     Timestamp(n.now()),
	}
	var lines []string
	for _, it := range order.Items {
		price := it.UnitPrice * float64(it.Quantity)
		note.Items = append(note.Items, NotificationItem{Name: it.NameSnapshot, Quantity: it.Quantity, Price: price})
		lines = append(lines, fmt.Sprintf("%s x%d - %s", it.NameSnapshot, it.Quantity, FormatPrice(price)))
	}
	items := strings.Join(lines, "\n")

	admin := fmt.Sprintf("New Order Received!\n\nOrder ID: %s\nCustomer: %s\nEmail: %s\nTotal: %s\nPayment Method: %s\n\nItems:\n%s\n\nPlease process this order and send payment instructions to the customer.",
		order.ID, order.ShippingName, order.Email, FormatPrice(order.Total), order.PaymentMethod, items)
	customer := fmt.Sprintf("Thank you for your order!\n\nOrder ID: %s\nTotal: %s\n\nItems:\n%s\n\nWe'll send you payment instructions shortly at this email address.\n\n- Spookiki Creations",
		order.ID, FormatPrice(order.Total), items)

	note.AdminMailto = Mailto(ShopEmail, "New Order #"+order.ID, admin)
	note.CustomerMailto = Mailto(order.Email, "Order Confirmation #"+order.ID, customer)

	var log []OrderNotification
	n.store.ReadInto(orderNotificationsKey, &log)
	if err := n.store.Write(orderNotificationsKey, append(log, note)); err != nil {
		return note, err
	}
	return note, nil
}

// Notifications returns the recorded order notifications.
func (n *Notifier) Notifications() []OrderNotification {
	var log []OrderNotification
	n.store.ReadInto(orderNotificationsKey, &log)
	return log
}

// ContactForm records a contact request and returns the mailto link for it.
func (n *Notifier) ContactForm(name, email, orderID, message string) (string, error) {
	subject := "Contact Form Submission"
	body := fmt.Sprintf("Name: %s\nEmail: %s\n", name, email)
	if orderID != "" {
		subject = "Contact Form - Order #" + orderID
		body += fmt.Sprintf("Order ID: %s\n", orderID)
	}
	body += "\nMessage:\n" + message

	var subs []ContactSubmission
	n.store.ReadInto(contactSubmissionsKey, &subs)
	subs = append(subs, ContactSubmission{
		Name:      name,
		Email:     email,
		OrderID:   orderID,
		Message:   message,
		Timestamp: Timestamp(n.now()),
		Status:    "pending",
	})
	if err := n.store.Write(contactSubmissionsKey, subs); err != nil {
		return "", err
	}
	return Mailto(ShopEmail, subject, body), nil
}

// ContactSubmissions returns the recorded contact requests.
func (n *Notifier) ContactSubmissions() []ContactSubmission {
	var subs []ContactSubmission
	n.store.ReadInto(contactSubmissionsKey, &subs)
	return subs
}
