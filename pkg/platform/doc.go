/*
Package platform abstracts the monitoring platform that fires
threshold-crossing events.

The Bridge interface is everything the coordinator needs from the
platform: submit a plan, cancel a plan. Event delivery is not part of
the interface because the platform pushes events into observer
invocations; the coordinator never sees raw events.

The Simulator is the in-process implementation used by tests and the
simulate command. It models the platform's documented misbehavior:

  - at most one signal per boundary, but a delivery may duplicate
  - deliveries may reorder within a batch
  - deliveries may be lost outright
  - plans beyond slot capacity are rejected
  - cancellation can fail, leaving a superseded plan firing stale
    generations

Everything is driven by a seeded RNG, so a failing test reproduces
with its seed.
*/
package platform
