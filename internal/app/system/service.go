package system

import "context"

// Service is a lifecycle-managed component: the HTTP planes, the scheduled
// runners, anything that must come up before traffic and drain on shutdown.
// The manager starts services in registration order and stops them in
// reverse.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
