/*
Package resources samples host and per-service resource usage.

Every 5 seconds the sampler reads host CPU, memory, disk and load averages
via gopsutil, asks the container runtime for per-service usage, appends the
sample to a bounded ring (720 samples, one hour), and publishes it on the
"updates:resources" subscription. The AlertEngine and the Broadcaster are the
two consumers.
*/
package resources
