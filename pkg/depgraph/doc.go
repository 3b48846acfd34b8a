/*
Package depgraph provides the service dependency graph and the pure selection
validator.

Graph holds the acyclic dependency relation over service IDs and offers
deterministic topological sorting (Kahn's algorithm, alphabetical tie-break)
both forward (start order) and reverse (stop order).

Validate checks a set of selected profiles against catalog rules: any-of
prerequisite satisfaction, mutual conflicts, and host resource fit. It also
computes the combined resource footprint over the deduplicated union of
services, counting each shared service exactly once, and the phase-partitioned
startup ordering. Validate has no side effects and touches no global state,
which keeps it trivially testable.
*/
package depgraph
