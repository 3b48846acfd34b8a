/*
Package configstore owns the project's declarative artifacts.

Three formats are handled: the order-preserving KEY=VALUE environment file,
the compose-style service declaration (only image-tag replacement is
allowed), and the JSON state documents under .kaspa-aio/. All reads treat a
missing file as empty; all writes are two-phase (temp file, fsync, rename)
so a crash never leaves a half-written artifact.
*/
package configstore
