package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/ftb/pkg/types"
)

// Catalog stores the publishable events of every event space. Each space
// has its own lock so declarations in unrelated spaces never contend.
type Catalog struct {
	spaces sync.Map // map[string]*space
}

type space struct {
	mu     sync.RWMutex
	events map[string]types.EventDeclaration
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{}
}

func (c *Catalog) space(name string) *space {
	if s, ok := c.spaces.Load(name); ok {
		return s.(*space)
	}
	s, _ := c.spaces.LoadOrStore(name, &space{events: make(map[string]types.EventDeclaration)})
	return s.(*space)
}

// Declare registers infos under eventSpace on behalf of clientID.
//
// Repeating an identical declaration is a no-op. A name already declared in
// the space by another client, or by the same client with another severity,
// fails with ErrDuplicateEventName. Declaring a pre-loaded name with the
// pre-loaded severity is accepted. The call is all-or-nothing. An empty
// infos slice is valid and defers to the pre-loaded schema.
func (c *Catalog) Declare(clientID, eventSpace string, infos []types.EventInfo) error {
	if clientID == "" {
		return fmt.Errorf("%w: empty client id", types.ErrClientNotConnected)
	}
	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return err
		}
	}
	if len(infos) == 0 {
		return nil
	}

	s := c.space(eventSpace)
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]types.EventInfo, len(infos))
	for _, info := range infos {
		if prev, ok := pending[info.Name]; ok && prev.Severity != info.Severity {
			return fmt.Errorf("%w: %s declared twice with different severities", types.ErrDuplicateEventName, info.Name)
		}
		if existing, ok := s.events[info.Name]; ok && !compatible(existing, clientID, info) {
			return fmt.Errorf("%w: %s already declared in %s", types.ErrDuplicateEventName, info.Name, eventSpace)
		}
		pending[info.Name] = info
	}

	for name, info := range pending {
		if existing, ok := s.events[name]; ok && existing.Preloaded() {
			continue
		}
		s.events[name] = types.EventDeclaration{
			EventSpace: eventSpace,
			Name:       name,
			Severity:   info.Severity,
			Owner:      clientID,
		}
	}
	return nil
}

func compatible(existing types.EventDeclaration, clientID string, info types.EventInfo) bool {
	if existing.Severity != info.Severity {
		return false
	}
	return existing.Preloaded() || existing.Owner == clientID
}

// Preload installs schema entries that any client of eventSpace may publish.
// They survive client disconnects.
func (c *Catalog) Preload(eventSpace string, infos []types.EventInfo) error {
	if err := types.ValidateEventSpace(eventSpace); err != nil {
		return err
	}
	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return err
		}
	}

	s := c.space(eventSpace)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range infos {
		if existing, ok := s.events[info.Name]; ok && existing.Severity != info.Severity {
			return fmt.Errorf("%w: %s already declared in %s with severity %s",
				types.ErrDuplicateEventName, info.Name, eventSpace, existing.Severity)
		}
	}
	for _, info := range infos {
		s.events[info.Name] = types.EventDeclaration{
			EventSpace: eventSpace,
			Name:       info.Name,
			Severity:   info.Severity,
		}
	}
	return nil
}

// Lookup returns the declaration of eventName in eventSpace
func (c *Catalog) Lookup(eventSpace, eventName string) (types.EventDeclaration, error) {
	v, ok := c.spaces.Load(eventSpace)
	if !ok {
		return types.EventDeclaration{}, fmt.Errorf("%w: %s in %s", types.ErrEventNotDeclared, eventName, eventSpace)
	}
	s := v.(*space)
	s.mu.RLock()
	defer s.mu.RUnlock()

	decl, ok := s.events[eventName]
	if !ok {
		return types.EventDeclaration{}, fmt.Errorf("%w: %s in %s", types.ErrEventNotDeclared, eventName, eventSpace)
	}
	return decl, nil
}

// CanPublish reports whether clientID may publish eventName in eventSpace
// and returns the matching declaration.
func (c *Catalog) CanPublish(clientID, eventSpace, eventName string) (types.EventDeclaration, error) {
	decl, err := c.Lookup(eventSpace, eventName)
	if err != nil {
		return decl, err
	}
	if !decl.Preloaded() && decl.Owner != clientID {
		return types.EventDeclaration{}, fmt.Errorf("%w: %s in %s is declared by another client",
			types.ErrEventNotDeclared, eventName, eventSpace)
	}
	return decl, nil
}

// Undeclare removes every declaration clientID owns in eventSpace and
// returns how many were removed. Pre-loaded entries are kept.
func (c *Catalog) Undeclare(clientID, eventSpace string) int {
	v, ok := c.spaces.Load(eventSpace)
	if !ok {
		return 0
	}
	s := v.(*space)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, decl := range s.events {
		if decl.Owner == clientID && clientID != "" {
			delete(s.events, name)
			removed++
		}
	}
	return removed
}

// Declarations lists the declarations of eventSpace sorted by name
func (c *Catalog) Declarations(eventSpace string) []types.EventDeclaration {
	v, ok := c.spaces.Load(eventSpace)
	if !ok {
		return nil
	}
	s := v.(*space)
	s.mu.RLock()
	decls := make([]types.EventDeclaration, 0, len(s.events))
	for _, decl := range s.events {
		decls = append(decls, decl)
	}
	s.mu.RUnlock()

	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Len returns the total number of declarations and the number of spaces
// holding at least one.
func (c *Catalog) Len() (declarations, spaces int) {
	c.spaces.Range(func(_, v any) bool {
		s := v.(*space)
		s.mu.RLock()
		n := len(s.events)
		s.mu.RUnlock()
		if n > 0 {
			declarations += n
			spaces++
		}
		return true
	})
	return declarations, spaces
}
