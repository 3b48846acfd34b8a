/*
Package store persists the controller's side-state in a single bbolt file
under the state directory.

Three buckets, JSON values, keys prefixed with an RFC3339Nano timestamp so a
cursor walk is a time walk:

  - alerts: the alert history (AlertEngine keeps at least the last 500)
  - task_archive: terminal background tasks kept as read-only records
  - sync_samples: recent node sync observations surviving a restart

Live declarative artifacts (.env, compose files, installation state) are the
configstore's property and never pass through here.
*/
package store
