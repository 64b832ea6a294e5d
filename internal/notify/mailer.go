package notify

import (
	"context"
	"errors"
	"strings"
)

// Message is one outbound email.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
	HTML    bool
}

// Recipients returns To followed by Cc, blanks removed.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, addr := range append(append([]string{}, m.To...), m.Cc...) {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("notify: message has no recipients")

// Mailer delivers email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
