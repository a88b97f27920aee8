package worker

import (
	"context"

	audit "familyledger/pkg/platform/audit"
)

// DeliverFunc hands one entry to its destination. Delivery failures are
// the deliverer's concern; the worker only sequences.
type DeliverFunc func(ctx context.Context, entry audit.Entry)

// Worker drains a channel of audit entries in order.
type Worker struct {
	inbox   <-chan audit.Entry
	deliver DeliverFunc
}

func NewWorker(inbox <-chan audit.Entry, deliver DeliverFunc) *Worker {
	return &Worker{inbox: inbox, deliver: deliver}
}

// Run delivers entries until the inbox is closed, then returns nil. Closing
// the inbox is the drain signal: everything queued before it is delivered.
// Cancelling ctx stops the worker early and returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.deliver(ctx, entry)
		}
	}
}
