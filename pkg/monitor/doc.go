/*
Package monitor observes and controls the service fleet.

A 5 second observation cycle lists fleet containers, classifies each catalog
service's state, runs its declared health probe with a consecutive-failure
budget, and publishes a service:changed event whenever state or health moves.

Control operations (start, stop, restart, emergency stop) run under a
fleet-wide mutation lock. Starts proceed in dependency order and await health
per service; stops proceed in reverse order and refuse while healthy
dependents outside the set are running.
*/
package monitor
