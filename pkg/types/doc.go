/*
Package types defines the data model shared by every backplane component.

The model follows the FTB client API: a client connects to an event space,
declares the events it may publish, publishes events and subscribes to
events of others with a filter string. The types here carry no behaviour
beyond validation and are safe to serialize as JSON.

# Core Types

Clients:
  - ClientInfo: what a client presents on connect
  - Client: the registry record of a connected client
  - SubscriptionStyle: polling or callback
  - ClientState: connected or disconnected

Events:
  - EventInfo: a (name, severity) pair declared as publishable
  - EventDeclaration: an EventInfo bound to an event space and owner
  - Event: an immutable published event
  - EventHandle: unique identity of one published event

Delivery:
  - Subscription: public view of an active subscription
  - Delivery: an event handed to a subscriber plus the overflow count

# Limits

Text fields are bounded by the FTB structure sizes (see the Max* constants).
Values over the limit are rejected with ErrInvalidClientInfo or
ErrInvalidEventInfo rather than truncated.

# Errors

Every error kind returned to callers is a sentinel declared in errors.go.
Layers wrap them with fmt.Errorf("...: %w", err) so errors.Is keeps working
across package and transport boundaries. ErrorKind and KindError translate
between a sentinel and its stable name for the wire.
*/
package types
