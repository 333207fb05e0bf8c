/*
Package events carries backplane lifecycle notifications to local observers.

These are not FTB events. Published fault events travel through the
backplane pipeline with sequence numbers and delivery queues; the events in
this package only describe the pipeline itself (a client connected, a
subscription was removed, a queue overflowed) for audit logging and
operational tooling running in the same process.

Publishing never blocks. A slow observer loses notifications rather than
stalling the backplane:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(128)
	for ev := range sub {
		logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
	}
*/
package events
