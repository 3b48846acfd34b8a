/*
Package types defines the shared domain model of the controller.

The catalog types (Profile, ServiceDefinition) are immutable after load.
Observations, tasks, alerts and samples are each owned by exactly one
subsystem and only published through the event bus; other packages treat them
as values.

Ownership:

  - Profile, ServiceDefinition: pkg/catalog (read-only after load)
  - ServiceObservation: pkg/monitor
  - ResourceSample: pkg/resources
  - Task: pkg/tasks
  - SyncSample, SyncStatus: pkg/syncmgr
  - SnapshotMetadata: pkg/backup
  - Alert: pkg/alerts
*/
package types
