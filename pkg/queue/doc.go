/*
Package queue implements the per-subscription delivery queue.

A Queue is a bounded ring of published events. Polling consumers dequeue
from the head with Poll, which never blocks. Once a callback is set, a
mailbox goroutine owned by the queue drains the ring and invokes the
callback for each event, so a slow consumer only ever delays itself.

Every callback runs behind a gobreaker circuit breaker with panic recovery.
While the breaker is open, events stay queued and the worker retries once
the breaker timeout has passed. New events still buffer behind them, so a
long outage surfaces as overflow counted in Delivery.Dropped.

An event that does not fit is dropped and the count of dropped events is
attached to the next Delivery handed to the consumer.
*/
package queue
