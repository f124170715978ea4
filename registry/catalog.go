package registry

import "context"

// Catalog stores a copy of hosts' object tables outside the bus, for
// inventory and fleet tooling. Calls never consult it.
type Catalog interface {
	// Publish stores objs under host. Entries expire ttl seconds after
	// ctx is done unless published again.
	Publish(ctx context.Context, host string, objs []ObjectDescriptor, ttl int64) error
	Deregister(ctx context.Context, host string) error
	Discover(ctx context.Context, host string) ([]ObjectDescriptor, error)
	// Watch emits the host's full object list after every change until ctx
	// is done.
	Watch(ctx context.Context, host string) <-chan []ObjectDescriptor
}
