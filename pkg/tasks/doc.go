/*
Package tasks is the background task supervisor.

Each started task polls a checker on its own goroutine; checkers report
progress, completion or an error, and the supervisor serializes all state
mutation so pollers never block each other. Lifecycle events (started,
progress, paused, resumed, complete, error, cancelled) fan out through the
event bus, and terminal tasks are archived to the store.

The node-sync convenience path builds a task whose checker delegates to the
sync manager, optionally switching configuration back to the local node on
completion.
*/
package tasks
