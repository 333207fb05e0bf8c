/*
Package api exposes the backplane over gRPC.

The service is ftb.Backplane. Messages are the plain Go structs in this
package, carried by a JSON codec registered under the "json" content
subtype, and the service descriptor is written by hand, so no generated
code is involved. Clients must select the codec with
grpc.CallContentSubtype(api.CodecName); package client does this.

# Architecture

	┌──────────── client.Client ────────────┐
	│  Connect / Publish / Subscribe / ...  │
	│  StreamEvents (callback delivery)      │
	└──────────────────┬────────────────────┘
	                   │ gRPC + JSON, optional mTLS
	┌──────────────────▼────────────────────┐
	│  api.Server                            │
	│  Recovery → Metrics interceptors       │
	│  error kind → status code + trailer    │
	└──────────────────┬────────────────────┘
	                   │
	┌──────────────────▼────────────────────┐
	│  backplane.Backplane                   │
	└────────────────────────────────────────┘

# Methods

	Connect                   ConnectRequest           → ConnectResponse
	Disconnect                DisconnectRequest        → Empty
	DeclarePublishableEvents  DeclareRequest           → Empty
	Publish                   PublishRequest           → PublishResponse
	Subscribe                 SubscribeRequest         → SubscribeResponse
	Unsubscribe               UnsubscribeRequest       → Empty
	PollEvent                 PollRequest              → PollResponse
	LoadSchema                LoadSchemaRequest        → Empty
	Stats                     Empty                    → StatsResponse
	ListDeclarations          ListDeclarationsRequest  → ListDeclarationsResponse
	StreamEvents              StreamEventsRequest      → stream types.Delivery

PollEvent never fails for an empty queue; it answers Found false.
StreamEvents is the remote form of RegisterCallback: while the stream is
open the subscription is in push mode, and it returns to polling when the
stream ends. The stream closes cleanly when the subscription is removed.

# Errors

Every backplane error kind maps to a gRPC code (InvalidClientInfo →
InvalidArgument, SubscriptionNotFound → NotFound, and so on) and the kind
name is sent in the "ftb-error" trailer. FromStatus rebuilds a RemoteError
that unwraps to the original sentinel, so errors.Is works across the wire.

# Listeners

The TCP listener serves the full service, optionally over mutual TLS. A
Unix socket listener started with StartUnix serves only read methods
(Stats, List*) for local inspection.

HealthServer serves /health, /ready, /live, /metrics and /stats on a
separate HTTP port.
*/
package api
