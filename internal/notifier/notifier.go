// Package notifier delivers alert notifications to operators. Delivery is
// best-effort by contract: a failed send is logged by the caller and must
// never fail the evaluation that produced the alert.
package notifier

import "context"

// Notifier is the outbound notification sink.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Noop discards notifications; used when no recipient is configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, subject, body string) error {
	return nil
}
