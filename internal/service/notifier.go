package service

import (
	"context"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/queue"
)

// Notifier delivers visit events after commit. Failures are logged by the
// caller and never undo the operation.
type Notifier interface {
	Publish(ctx context.Context, ev queue.VisitEvent) error
}

// NopNotifier drops every event. Used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, queue.VisitEvent) error { return nil }
