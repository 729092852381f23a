// Package system defines the lifecycle contract for long-running components.
package system

import "context"

// Service is a background component the runtime starts before serving traffic
// and stops during shutdown. Start must not block past initialisation; Stop
// must honour the context deadline. The renewal scanner is the canonical
// implementation.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
