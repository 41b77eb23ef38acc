// Package bus hands bridge events from the changefeed consumers to the
// publisher.
//
// A Bus is an unbounded, multi-producer single-consumer queue. Producers never
// block on Send; the single consumer drains events with Receive in the order
// each producer enqueued them. Events from different producers interleave in
// arrival order.
package bus
