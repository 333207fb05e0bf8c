package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits inherited from the FTB wire structures
const (
	MaxEventSpaceLen    = 64
	MaxSchemaVersionLen = 8
	MaxClientNameLen    = 16
	MaxJobIDLen         = 16
	MaxEventNameLen     = 32
	MaxSeverityLen      = 16
	MaxHostnameLen      = 64
	MaxPIDStartTimeLen  = 32

	// DefaultMaxPayload is the default payload limit in bytes
	DefaultMaxPayload = 368
)

// SubscriptionStyle defines how a client consumes its subscriptions
type SubscriptionStyle string

const (
	SubscriptionPolling  SubscriptionStyle = "polling"
	SubscriptionCallback SubscriptionStyle = "callback"
)

// ParseSubscriptionStyle accepts the canonical names and the FTB spellings.
// An empty string selects polling.
func ParseSubscriptionStyle(s string) (SubscriptionStyle, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "POLLING", "FTB_SUBSCRIPTION_POLLING":
		return SubscriptionPolling, nil
	case "CALLBACK", "NOTIFY", "FTB_SUBSCRIPTION_NOTIFY":
		return SubscriptionCallback, nil
	default:
		return "", fmt.Errorf("%w: unknown subscription style %q", ErrInvalidClientInfo, s)
	}
}

// ClientState is the connection state of a client
type ClientState string

const (
	ClientConnected    ClientState = "connected"
	ClientDisconnected ClientState = "disconnected"
)

// ClientInfo is what a client presents on connect
type ClientInfo struct {
	EventSpace        string            `json:"event_space" yaml:"event_space"`
	SchemaVersion     string            `json:"schema_version" yaml:"schema_version"`
	ClientName        string            `json:"client_name" yaml:"client_name"`
	JobID             string            `json:"jobid,omitempty" yaml:"jobid"`
	SubscriptionStyle SubscriptionStyle `json:"subscription_style" yaml:"subscription_style"`
	Hostname          string            `json:"hostname,omitempty" yaml:"hostname"`
	PollingQueueLen   int               `json:"polling_queue_len,omitempty" yaml:"polling_queue_len"`

	// PID and PIDStartTime locate the client process on Hostname
	PID          uint32 `json:"pid,omitempty" yaml:"pid"`
	PIDStartTime string `json:"pid_starttime,omitempty" yaml:"pid_starttime"`
}

// Validate checks required fields and length limits
func (ci *ClientInfo) Validate() error {
	if ci.EventSpace == "" || ci.SchemaVersion == "" || ci.ClientName == "" {
		return fmt.Errorf("%w: event space, schema version and client name are required", ErrInvalidClientInfo)
	}
	if err := ValidateEventSpace(ci.EventSpace); err != nil {
		return err
	}
	checks := []struct {
		field string
		value string
		max   int
	}{
		{"schema_version", ci.SchemaVersion, MaxSchemaVersionLen},
		{"client_name", ci.ClientName, MaxClientNameLen},
		{"jobid", ci.JobID, MaxJobIDLen},
		{"hostname", ci.Hostname, MaxHostnameLen},
		{"pid_starttime", ci.PIDStartTime, MaxPIDStartTimeLen},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidClientInfo, c.field, c.max)
		}
	}
	if ci.PollingQueueLen < 0 {
		return fmt.Errorf("%w: negative polling queue length", ErrInvalidClientInfo)
	}
	return nil
}

// ValidateEventSpace checks that space is a dot separated path of
// non-empty segments made of letters, digits, '_' and '-'.
func ValidateEventSpace(space string) error {
	if space == "" || len(space) > MaxEventSpaceLen {
		return fmt.Errorf("%w: event space must be 1-%d bytes", ErrInvalidClientInfo, MaxEventSpaceLen)
	}
	for _, seg := range strings.Split(space, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in event space %q", ErrInvalidClientInfo, space)
		}
		for _, r := range seg {
			if !isNameRune(r) {
				return fmt.Errorf("%w: invalid character %q in event space %q", ErrInvalidClientInfo, r, space)
			}
		}
	}
	return nil
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Client represents a connected backplane client
type Client struct {
	ID                string            `json:"id"`
	EventSpace        string            `json:"event_space"`
	SchemaVersion     string            `json:"schema_version"`
	ClientName        string            `json:"client_name"`
	JobID             string            `json:"jobid,omitempty"`
	SubscriptionStyle SubscriptionStyle `json:"subscription_style"`
	Hostname          string            `json:"hostname"`
	PID               uint32            `json:"pid,omitempty"`
	PIDStartTime      string            `json:"pid_starttime,omitempty"`
	PollingQueueLen   int               `json:"polling_queue_len,omitempty"`
	State             ClientState       `json:"state"`
	ConnectedAt       time.Time         `json:"connected_at"`
	LastSeen          time.Time         `json:"last_seen"`
}

// EventInfo is a (name, severity) pair a client declares as publishable
type EventInfo struct {
	Name     string `json:"name" yaml:"name"`
	Severity string `json:"severity" yaml:"severity"`
}

// Validate checks that name and severity are present and within limits
func (ei EventInfo) Validate() error {
	if ei.Name == "" || len(ei.Name) > MaxEventNameLen {
		return fmt.Errorf("%w: event name must be 1-%d bytes", ErrInvalidEventInfo, MaxEventNameLen)
	}
	for _, r := range ei.Name {
		if !isNameRune(r) {
			return fmt.Errorf("%w: invalid character %q in event name %q", ErrInvalidEventInfo, r, ei.Name)
		}
	}
	if ei.Severity == "" || len(ei.Severity) > MaxSeverityLen {
		return fmt.Errorf("%w: severity must be 1-%d bytes", ErrInvalidEventInfo, MaxSeverityLen)
	}
	return nil
}

// EventDeclaration records a publishable event in an event space.
// Owner is the declaring client ID, empty for pre-loaded schema entries.
type EventDeclaration struct {
	EventSpace string `json:"event_space" yaml:"event_space"`
	Name       string `json:"name" yaml:"name"`
	Severity   string `json:"severity" yaml:"severity"`
	Owner      string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// Preloaded reports whether the declaration came from a schema file
func (d EventDeclaration) Preloaded() bool {
	return d.Owner == ""
}

// EventHandle uniquely identifies one published event instance
type EventHandle struct {
	ID         uuid.UUID `json:"id"`
	EventSpace string    `json:"event_space"`
	Seqnum     uint64    `json:"seqnum"`
}

// NewEventHandle allocates a handle for the given space and sequence number
func NewEventHandle(space string, seq uint64) EventHandle {
	return EventHandle{ID: uuid.New(), EventSpace: space, Seqnum: seq}
}

// Equal reports whether two handles refer to the same event
func (h EventHandle) Equal(other EventHandle) bool {
	return h == other
}

// IsZero reports whether h was never assigned
func (h EventHandle) IsZero() bool {
	return h.ID == uuid.Nil
}

func (h EventHandle) String() string {
	return fmt.Sprintf("%s/%d/%s", h.EventSpace, h.Seqnum, h.ID)
}

// EventType tells ordinary events apart from responses to earlier ones
type EventType string

const (
	EventNormal   EventType = "normal"
	EventResponse EventType = "response"
)

// ParseEventType accepts the canonical names and the FTB numeric codes.
// An empty string selects EventNormal.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "1", "ftb_event_normal":
		return EventNormal, nil
	case "response", "2", "ftb_event_response":
		return EventResponse, nil
	default:
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEventInfo, s)
	}
}

// EventProperties are the attributes a publisher sets per event
type EventProperties struct {
	Type    EventType
	Payload []byte
}

// Event is a published event. It is shared by every queue it was
// delivered to and must not be modified after publish.
type Event struct {
	Handle       EventHandle `json:"handle"`
	EventSpace   string      `json:"event_space"`
	Name         string      `json:"event_name"`
	Severity     string      `json:"severity"`
	Type         EventType   `json:"event_type"`
	ClientID     string      `json:"client_id"`
	ClientName   string      `json:"client_name"`
	JobID        string      `json:"jobid,omitempty"`
	Hostname     string      `json:"hostname"`
	PID          uint32      `json:"pid,omitempty"`
	PIDStartTime string      `json:"pid_starttime,omitempty"`
	Seqnum       uint64      `json:"seqnum"`
	Payload      []byte      `json:"payload,omitempty"`
	PublishedAt  time.Time   `json:"published_at"`
}

// Source identifies the publishing process as "hostname-pid"
func (e *Event) Source() string {
	return fmt.Sprintf("%s-%d", e.Hostname, e.PID)
}

// Subscription is the public view of an active subscription
type Subscription struct {
	ID        string            `json:"id"`
	ClientID  string            `json:"client_id"`
	Filter    string            `json:"filter"`
	Style     SubscriptionStyle `json:"style"`
	Pushing   bool              `json:"pushing"`
	Pending   int               `json:"pending"`
	CreatedAt time.Time         `json:"created_at"`
}

// Delivery is one event handed to a subscriber. Dropped counts events
// lost to queue overflow since the previous delivery on the same subscription.
type Delivery struct {
	Event   *Event `json:"event"`
	Dropped uint64 `json:"dropped,omitempty"`
}

// Stats is a point-in-time summary of backplane state
type Stats struct {
	Clients       int               `json:"clients"`
	Subscriptions int               `json:"subscriptions"`
	Declarations  int               `json:"declarations"`
	EventSpaces   int               `json:"event_spaces"`
	Sequences     map[string]uint64 `json:"sequences,omitempty"`
}
