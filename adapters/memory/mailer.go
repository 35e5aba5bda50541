package memory

import (
	"context"
	"net/url"
	"sync"

	"github.com/lborres/templatex/core"
)

// Outbox is a core.Mailer that keeps every message instead of sending it.
type Outbox struct {
	mu       sync.Mutex
	messages []core.Message
	err      error
}

var _ core.Mailer = (*Outbox)(nil)

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(ctx context.Context, msg core.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *Outbox) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Outbox) Messages() []core.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.Message(nil), o.messages...)
}

// LastToken returns the token query parameter of the newest message sent
// to addr.
func (o *Outbox) LastToken(addr string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To != addr {
			continue
		}
		u, err := url.Parse(o.messages[i].Link)
		if err != nil {
			return "", false
		}
		tok := u.Query().Get("token")
		return tok, tok != ""
	}
	return "", false
}
