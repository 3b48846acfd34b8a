/*
Package metrics exposes the controller's Prometheus metrics.

Collectors are package-level variables registered in init, updated inline by
the owning subsystems (monitor cycles, probe failures, task status, sync
progress, update outcomes, alert counts, broadcast volume). Handler serves
them on /metrics of the dashboard surface.
*/
package metrics
