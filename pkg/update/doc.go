/*
Package update orchestrates version updates and reconfiguration.

An update run processes services sequentially in dependency order through
five phases: snapshot, stop, image-tag rewrite, start, await health. A
service that never turns healthy is rolled back to its prior tag and the run
aborts. Reconfiguration follows the same structure but rewrites the
environment file and restarts only the services whose profiles own a changed
key. Major version jumps require explicit acknowledgement.
*/
package update
