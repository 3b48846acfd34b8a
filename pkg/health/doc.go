/*
Package health implements multi-protocol health probes for fleet services.

Three checkers implement the Checker interface:

  - HTTPChecker: GET against a path, any 2xx/3xx is healthy
  - JSONRPCChecker: sends a configured no-arg method, a non-error response is healthy
  - TCPChecker: a successful connect is healthy

All checks accept a context and carry their own timeout (default 5s).

Status tracks consecutive results and implements the retry contract: a service
flips to unhealthy only after Retries consecutive failures, while recovery is
immediate on the first success. The ServiceMonitor owns one Status per
service and drives checks on its observation cycle.
*/
package health
