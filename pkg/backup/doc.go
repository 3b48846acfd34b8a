/*
Package backup snapshots and restores the project's configuration artifacts.

A snapshot is a timestamp-named directory holding a copy of each artifact
plus a JSON sidecar describing the files. Restores swap artifacts back via
two-phase writes, optionally capturing a pre-restore snapshot first.
Retention keeps the newest 20 snapshots.
*/
package backup
