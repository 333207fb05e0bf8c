package types

import "errors"

// Error kinds returned by the backplane. Callers match them with errors.Is.
var (
	ErrInvalidClientInfo    = errors.New("invalid client info")
	ErrClientNotConnected   = errors.New("client not connected")
	ErrEventNotDeclared     = errors.New("event not declared")
	ErrDuplicateEventName   = errors.New("duplicate event name")
	ErrInvalidFilterSyntax  = errors.New("invalid filter syntax")
	ErrQueueOverflow        = errors.New("queue overflow")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidEventInfo     = errors.New("invalid event info")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrNoEvent              = errors.New("no event")
	ErrInvalidCallback      = errors.New("invalid callback")
	ErrInternal             = errors.New("internal error")
)

var kinds = map[string]error{
	"InvalidClientInfo":    ErrInvalidClientInfo,
	"ClientNotConnected":   ErrClientNotConnected,
	"EventNotDeclared":     ErrEventNotDeclared,
	"DuplicateEventName":   ErrDuplicateEventName,
	"InvalidFilterSyntax":  ErrInvalidFilterSyntax,
	"QueueOverflow":        ErrQueueOverflow,
	"SubscriptionNotFound": ErrSubscriptionNotFound,
	"InvalidEventInfo":     ErrInvalidEventInfo,
	"PayloadTooLarge":      ErrPayloadTooLarge,
	"NoEvent":              ErrNoEvent,
	"InvalidCallback":      ErrInvalidCallback,
	"Internal":             ErrInternal,
}

// ErrorKind returns the stable name of the error kind wrapped by err,
// or an empty string if err carries none.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for name, kind := range kinds {
		if errors.Is(err, kind) {
			return name
		}
	}
	return ""
}

// KindError returns the sentinel registered under name, or nil.
func KindError(name string) error {
	return kinds[name]
}
