/*
Package alerts evaluates service transitions, resource samples and sync
transitions against configurable thresholds and raises deduplicated alerts.

One alert stays open per (kind, subjectKey); recovery closes it and emits an
informational counterpart. History persists the last 500 alerts.
*/
package alerts
