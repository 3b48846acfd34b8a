/*
Package runtime is the capability boundary over the container engine.

Adapter is the interface the rest of the controller programs against; the
monitor, update pipeline and API handlers never import the engine client
directly. DockerAdapter implements it against the Docker Engine API, scoped
to the compose project that owns the fleet. Profile up/down is delegated to
the compose CLI because only compose can materialize profiles from the
declarative file set; container-level start/stop/restart, stats, logs and
engine info use the API directly.

Mutating operations are serialized per service. No business logic lives here:
ordering, dependency checks and health waits are the ServiceMonitor's job, and
the adapter executes exactly what it is told.

Every operation can fail with RuntimeUnavailable when the engine is not
reachable; callers surface that with remediation text rather than retrying.
*/
package runtime
