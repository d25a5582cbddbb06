package ports

import (
	"context"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// ConnectivityProbe samples the platform's current reachability signal.
type ConnectivityProbe interface {
	Check(ctx context.Context) bool
}

// ConnectivityReader exposes the current connectivity state to readers.
type ConnectivityReader interface {
	IsOnline() bool
	State() offline.ConnectivityState
}

// QueueObserver is notified after any queue mutation.
type QueueObserver interface {
	QueueChanged()
}

// Reconciler applies a semantic mutation against the backend.
type Reconciler interface {
	Reconcile(ctx context.Context, item *offline.SyncQueueItem) error
}
