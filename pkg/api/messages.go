package api

import (
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/types"
)

type Empty struct{}

type ConnectRequest struct {
	Info types.ClientInfo `json:"info"`
}

type ConnectResponse struct {
	Client types.Client `json:"client"`
}

type DisconnectRequest struct {
	ClientID string `json:"client_id"`
}

type DeclareRequest struct {
	ClientID string            `json:"client_id"`
	Events   []types.EventInfo `json:"events"`
}

type PublishRequest struct {
	ClientID  string          `json:"client_id"`
	EventName string          `json:"event_name"`
	EventType types.EventType `json:"event_type,omitempty"`
	Payload   []byte          `json:"payload,omitempty"`
}

type PublishResponse struct {
	Handle types.EventHandle `json:"handle"`
}

type SubscribeRequest struct {
	ClientID string `json:"client_id"`
	Filter   string `json:"filter"`
}

type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type PollRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// PollResponse has Found false when no event was pending
type PollResponse struct {
	Found    bool           `json:"found"`
	Delivery types.Delivery `json:"delivery"`
}

type StreamEventsRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type LoadSchemaRequest struct {
	Files []schema.File `json:"files"`
}

type StatsResponse struct {
	Stats   types.Stats    `json:"stats"`
	Clients []types.Client `json:"clients,omitempty"`
}

type ListDeclarationsRequest struct {
	EventSpace string `json:"event_space"`
}

type ListDeclarationsResponse struct {
	Declarations []types.EventDeclaration `json:"declarations"`
}
