/*
Package client is the Go client library for a remote backplane.

Client mirrors the operations of backplane.Backplane over the ftb.Backplane
gRPC service, so a component written against a small interface runs the
same way in-process or across the network:

	c, err := client.NewClient("ftb-server:7946", client.WithCertDir("/etc/ftb/certs"))
	if err != nil {
		return err
	}
	defer c.Close()

	me, err := c.Connect(types.ClientInfo{
		EventSpace:        "FTB.MPI.OPENMPI",
		ClientName:        "rank-0",
		SubscriptionStyle: types.SubscriptionPolling,
	})
	...
	handle, err := c.Publish(me.ID, "MPI_PROC_DIED", []byte("rank=3"))

Errors keep their kind across the wire: errors.Is(err,
types.ErrEventNotDeclared) works on errors returned by Client exactly as
it does on the in-process backplane. PollEvent reports an empty queue as
types.ErrNoEvent.

# Callbacks

RegisterCallback opens a StreamEvents stream and runs the callback on a
client goroutine for each delivery, in order. The call returns only after
the server has switched the subscription to push mode, so an unknown
subscription fails immediately. UnregisterCallback, Unsubscribe and Close
end the stream; the server then returns the subscription to polling.

# Security

Without options the client dials in plaintext. WithCertDir loads tls.crt,
tls.key and ca.crt from a directory (see package security) and dials with
mutual TLS.

Every unary call is bounded by DefaultTimeout unless WithTimeout says
otherwise.
*/
package client
