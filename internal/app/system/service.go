package system

import "context"

// Service is one lifecycle-managed piece of the ledger application: the
// reconciliation poller, the cron scheduler and the HTTP server all
// implement it. The manager starts services in registration order and
// stops them in reverse, so a service may assume everything registered
// before it is already running.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
