/*
Package registry tracks connected clients and their subscriptions.

Clients live in a sharded table so connects and disconnects in unrelated
shards never contend. Each client record has its own lock; disconnect marks
the record and detaches its subscriptions under that lock, so a concurrent
AddSubscription either lands before the cascade or fails with
ClientNotConnected.

The publish path reads subscriptions through Subscriptions, a copy-on-write
snapshot rebuilt on every subscribe or unsubscribe and loaded without locks.
*/
package registry
