/*
Package api hosts the controller's two HTTP surfaces.

The dashboard surface serves day-two operations: fleet status, per-service
control, log streaming, configuration, updates, alerts, and the node RPC
proxy. The wizard surface serves installation: profile listing and selection
validation, resource pre-checks, install and reconfigure, backups, sync
strategy, and single-use handoff tokens. Both routers share one Server and
the same middleware chain, and both expose the WebSocket broadcaster.

Errors crossing the boundary are classified; writeError maps each kind to a
status code and a {success:false, kind, message, details?} body.
*/
package api
