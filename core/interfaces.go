package core

import "context"

// Notifier is an interface to receive row change notifications.
//
// The payload is the JSON encoded change. Notify must not block the caller for
// longer than it takes to hand the payload over.
type Notifier interface {
	Notify(ctx context.Context, table string, operation Operation, payload []byte)
}
