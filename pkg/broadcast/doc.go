/*
Package broadcast fans controller state out to WebSocket clients.

Clients subscribe to channels (updates:services, updates:resources, tasks,
sync:*, alerts); bus events are relayed to matching subscribers, and periodic
pushes cover services and resources with change detection (any state or
health movement for services, a 5 point swing for resources) and duplicate
suppression. A fresh subscription receives an initial_data snapshot. When
every client reports a hidden tab, the resources cadence stretches from 5 to
20 seconds.
*/
package broadcast
