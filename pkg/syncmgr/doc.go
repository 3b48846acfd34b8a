/*
Package syncmgr supervises blockchain node synchronization.

The manager polls the node's JSON-RPC endpoint for its chain position, keeps
a 10 minute sliding window of samples, and derives progress, blocks-per-second
rate, a formatted ETA and a recommended strategy (wait, background or skip).
RPC calls go through a circuit breaker so a wedged node fails fast.
*/
package syncmgr
