package stage

import (
	"context"

	"newsreel/internal/bus"
)

// Handler describes the contract the workflow manager needs from each stage.
// A stage subscribes to one topic under one consumer group; Handle returning
// an error triggers the bus retry policy, while a nil return commits.
type Handler interface {
	Name() string
	Topic() string
	Group() string
	Handle(ctx context.Context, event bus.Event) error
	HealthCheck(ctx context.Context) Health
}
