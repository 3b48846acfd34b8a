/*
Package events implements the in-process publish/subscribe bus.

Subsystems publish typed messages under a subscription key
("updates:services", "sync", "alerts", ...). Subscribers register patterns,
including prefix wildcards ("sync:*") and the catch-all "*".

Delivery guarantees:

  - within one subscription key, each subscriber sees messages in publish order
  - cross-subscription ordering is unspecified
  - a subscriber that falls more than 256 messages behind loses the oldest
    pending message; clients are expected to resynchronize from the next
    periodic broadcast

Subscribers drain their queue through a notify channel plus Next, which keeps
publishers non-blocking regardless of consumer speed.
*/
package events
