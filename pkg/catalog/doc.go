/*
Package catalog holds the static registry of deployable profiles and the
services they are made of.

The catalog is loaded once at process start and is immutable afterwards; every
other subsystem takes it as a read-only dependency. Load validates referential
integrity (dangling service or profile references, asymmetric conflict
declarations, prerequisite cycles, dependency cycles) and refuses to produce a
catalog that violates it, so downstream code never re-checks.

Legacy profile identifiers from earlier releases are migrated through a
declared alias map; GetProfile and Resolve follow aliases transparently.

The shipped catalog lives in builtin.go. Tests construct small catalogs with
Load directly.
*/
package catalog
