package shop

import (
	"errors"
	"strings"
	"time"

	"github.com/zot/shopsync/internal/reconcile"
)

const newsletterKey = "newsletter_subscribers"

var ErrInvalidEmail = errors.New("shop: invalid email")

type Newsletter struct {
	state *reconcile.State[[]NewsletterSubscriber]
	now   func() time.Time
}

func NewNewsletter(e *reconcile.Engine) *Newsletter {
	return &Newsletter{state: reconcile.Use(e, newsletterKey, []NewsletterSubscriber{}), now: time.Now}
}

// Subscribe adds email unless it is already subscribed. added is false
// for a duplicate.
func (n *Newsletter) Subscribe(email, source string) (added bool, err error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return false, ErrInvalidEmail
	}
	for _, sub := range n.state.Get() {
		if strings.EqualFold(sub.Email, email) {
			return false, nil
		}
	}
	n.state.Update(func(cur []NewsletterSubscriber) []NewsletterSubscriber {
		return append(cur, NewsletterSubscriber{Email: email, SubscribedAt: Timestamp(n.now()), Source: source})
	})
	return true, nil
}

func (n *Newsletter) Subscribers() []NewsletterSubscriber {
	return n.state.Get()
}

func (n *Newsletter) Close() {
	n.state.Close()
}
