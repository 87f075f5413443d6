package shop

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timeLayout matches JavaScript's Date.toISOString.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t as stored in records.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// FormatPrice renders a dollar amount with two decimals.
func FormatPrice(price float64) string {
	return fmt.Sprintf("$%.2f", price)
}

var (
	slugStrip  = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slugify lowercases text, drops punctuation and joins words with dashes.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.TrimSpace(s)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewOrderID returns SPK, the base-36 millisecond time and three random
// base-36 characters, upper-cased.
func NewOrderID(now time.Time) string {
	var b strings.Builder
	b.WriteString("SPK")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	for i := 0; i < 3; i++ {
		b.WriteByte(base36[rand.IntN(len(base36))])
	}
	return strings.ToUpper(b.String())
}

// PaymentInstructions tells the customer how to pay for an order.
func PaymentInstructions(method PaymentMethod, total float64, orderID string) string {
	switch method {
	case PayCashApp:
		return fmt.Sprintf("Send %s to $SpookikiCreations on Cash App. Include order #%s in the note.", FormatPrice(total), orderID)
	case PayVenmo:
		return fmt.Sprintf("Send %s to @SpookikiCreations on Venmo. Include order #%s in the note.", FormatPrice(total), orderID)
	case PayPayPalInvoice:
		return fmt.Sprintf("You'll receive a PayPal invoice for %s shortly. Please check your email for order #%s.", FormatPrice(total), orderID)
	case PayOther:
		return fmt.Sprintf("I'll reach out to you via email about payment for order #%s. Total: %s", orderID, FormatPrice(total))
	}
	return fmt.Sprintf("Payment instructions for order #%s will be sent to your email.", orderID)
}
