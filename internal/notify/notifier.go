package notify

import (
	"context"
)

// Notifier delivers approval lifecycle notifications to the owner.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers, returning the
// first failure after trying all of them.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}
