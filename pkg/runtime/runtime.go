package runtime

import (
	"context"
	"io"

	"github.com/kaspa-aio/controller/pkg/types"
)

// Adapter is the capability boundary over the container runtime. It only
// translates intent to runtime calls; no business logic lives behind it.
// Mutating operations are serialized per service by the implementation.
type Adapter interface {
	// ListRunning returns all fleet containers known to the runtime,
	// including stopped ones.
	ListRunning(ctx context.Context) ([]types.RuntimeContainer, error)

	// UsageFor returns resource usage of a single service's container.
	UsageFor(ctx context.Context, serviceID string) (types.Usage, error)

	// Up materializes and starts the given profiles.
	Up(ctx context.Context, profileIDs []string) error

	// Down stops and removes the given profiles' containers.
	Down(ctx context.Context, profileIDs []string) error

	// StartService starts an existing container by service ID.
	StartService(ctx context.Context, serviceID string) error

	// StopService stops a container by service ID.
	StopService(ctx context.Context, serviceID string) error

	// Restart restarts containers by service ID, in the given order.
	Restart(ctx context.Context, serviceIDs []string) error

	// Logs returns a log stream for a service. The caller closes it.
	Logs(ctx context.Context, serviceID string, tailLines int, follow bool) (io.ReadCloser, error)

	// Info describes the engine.
	Info(ctx context.Context) (types.RuntimeInfo, error)
}
