// Package connection abstracts "how do I reach the upstream API right
// now". A Provider supplies the current endpoint configuration and
// owns whatever lifecycle is needed to keep it reachable: nothing for
// a direct connection, a supervised kubectl port-forward for a cluster
// deployment.
package connection

import (
	"context"
	"time"
)

// DefaultTimeout is the per-request timeout used when a provider does
// not set one.
const DefaultTimeout = 30 * time.Second

// BasicAuth is a username/password credential pair.
type BasicAuth struct {
	Username string
	Password string
}

// Config is the connection configuration consumed by the dispatcher.
// Providers produce a fresh value on every access; a changed connection
// state yields a new value, never a mutation of an old one.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8084/kop/rest/v4.
	BaseURL string

	// Headers are sent with every request (e.g. trusted headers).
	Headers map[string]string

	// Bearer, when set, becomes an Authorization: Bearer header.
	Bearer string

	// Basic, when set, is applied as HTTP basic auth.
	Basic *BasicAuth

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Provider is the connection capability set. Implementations must
// tolerate concurrent EnsureConnection callers by serializing the
// check-and-start decision internally; Config and HealthCheck may run
// unsynchronized against committed state.
type Provider interface {
	// Setup performs one-time initialization before first use.
	Setup(ctx context.Context) error

	// EnsureConnection is called immediately before every dispatch.
	// On successful return, Config() reflects a reachable endpoint.
	EnsureConnection(ctx context.Context) error

	// Config returns the current connection configuration. Cheap,
	// synchronous, no I/O.
	Config() Config

	// HealthCheck is a best-effort liveness probe. It never fails
	// loudly: any problem is reported as false.
	HealthCheck(ctx context.Context) bool

	// Teardown releases owned resources. Safe to call even if Setup
	// never succeeded, and safe to call twice.
	Teardown(ctx context.Context) error
}
