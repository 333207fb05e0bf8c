package schema

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cuemby/ftb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoSpace = "FTB.DEMO"

func TestCatalogDeclareAndLookup(t *testing.T) {
	c := NewCatalog()

	err := c.Declare("client-a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}})
	require.NoError(t, err)

	decl, err := c.Lookup(demoSpace, "FAIL")
	require.NoError(t, err)
	assert.Equal(t, "INFO", decl.Severity)
	assert.Equal(t, "client-a", decl.Owner)
	assert.False(t, decl.Preloaded())

	_, err = c.Lookup(demoSpace, "OTHER")
	assert.ErrorIs(t, err, types.ErrEventNotDeclared)

	_, err = c.Lookup("FTB.NOWHERE", "FAIL")
	assert.ErrorIs(t, err, types.ErrEventNotDeclared)
}

func TestCatalogDeclareRules(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *Catalog)
		client  string
		infos   []types.EventInfo
		wantErr error
	}{
		{
			name:   "identical repeat is idempotent",
			setup:  func(c *Catalog) { _ = c.Declare("a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}) },
			client: "a",
			infos:  []types.EventInfo{{Name: "FAIL", Severity: "INFO"}},
		},
		{
			name:    "same name by another client",
			setup:   func(c *Catalog) { _ = c.Declare("a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}) },
			client:  "b",
			infos:   []types.EventInfo{{Name: "FAIL", Severity: "INFO"}},
			wantErr: types.ErrDuplicateEventName,
		},
		{
			name:    "same client new severity",
			setup:   func(c *Catalog) { _ = c.Declare("a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}) },
			client:  "a",
			infos:   []types.EventInfo{{Name: "FAIL", Severity: "FATAL"}},
			wantErr: types.ErrDuplicateEventName,
		},
		{
			name:   "matching pre-loaded entry",
			setup:  func(c *Catalog) { _ = c.Preload(demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}) },
			client: "b",
			infos:  []types.EventInfo{{Name: "FAIL", Severity: "INFO"}},
		},
		{
			name:    "conflicting pre-loaded entry",
			setup:   func(c *Catalog) { _ = c.Preload(demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}) },
			client:  "b",
			infos:   []types.EventInfo{{Name: "FAIL", Severity: "ERROR"}},
			wantErr: types.ErrDuplicateEventName,
		},
		{
			name:    "conflict within one call",
			setup:   func(c *Catalog) {},
			client:  "a",
			infos:   []types.EventInfo{{Name: "FAIL", Severity: "INFO"}, {Name: "FAIL", Severity: "ERROR"}},
			wantErr: types.ErrDuplicateEventName,
		},
		{
			name:    "invalid event name",
			setup:   func(c *Catalog) {},
			client:  "a",
			infos:   []types.EventInfo{{Name: "", Severity: "INFO"}},
			wantErr: types.ErrInvalidEventInfo,
		},
		{
			name:   "empty list defers to schema",
			setup:  func(c *Catalog) {},
			client: "a",
			infos:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog()
			tt.setup(c)
			err := c.Declare(tt.client, demoSpace, tt.infos)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCatalogDeclareIsAllOrNothing(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Declare("a", demoSpace, []types.EventInfo{{Name: "TAKEN", Severity: "INFO"}}))

	err := c.Declare("b", demoSpace, []types.EventInfo{
		{Name: "FRESH", Severity: "INFO"},
		{Name: "TAKEN", Severity: "INFO"},
	})
	assert.ErrorIs(t, err, types.ErrDuplicateEventName)

	_, err = c.Lookup(demoSpace, "FRESH")
	assert.ErrorIs(t, err, types.ErrEventNotDeclared)
}

func TestCatalogCanPublish(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Declare("a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}))
	require.NoError(t, c.Preload(demoSpace, []types.EventInfo{{Name: "WATCH_DOG_EVENT", Severity: "INFO"}}))

	_, err := c.CanPublish("a", demoSpace, "FAIL")
	assert.NoError(t, err)

	_, err = c.CanPublish("b", demoSpace, "FAIL")
	assert.ErrorIs(t, err, types.ErrEventNotDeclared)

	_, err = c.CanPublish("b", demoSpace, "WATCH_DOG_EVENT")
	assert.NoError(t, err)
}

func TestCatalogUndeclare(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Preload(demoSpace, []types.EventInfo{{Name: "SCHEMA", Severity: "INFO"}}))
	require.NoError(t, c.Declare("a", demoSpace, []types.EventInfo{
		{Name: "FAIL", Severity: "INFO"},
		{Name: "RECOVER", Severity: "INFO"},
	}))

	assert.Equal(t, 2, c.Undeclare("a", demoSpace))
	assert.Equal(t, 0, c.Undeclare("a", demoSpace))
	assert.Equal(t, 0, c.Undeclare("a", "FTB.NOWHERE"))

	// The name is free again for another client
	require.NoError(t, c.Declare("b", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "ERROR"}}))

	decls := c.Declarations(demoSpace)
	require.Len(t, decls, 2)
	assert.Equal(t, "FAIL", decls[0].Name)
	assert.Equal(t, "SCHEMA", decls[1].Name)
	assert.True(t, decls[1].Preloaded())
}

func TestCatalogPreloadConflict(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Declare("a", demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}))

	err := c.Preload(demoSpace, []types.EventInfo{{Name: "FAIL", Severity: "FATAL"}})
	assert.ErrorIs(t, err, types.ErrDuplicateEventName)

	err = c.Preload("bad space", nil)
	assert.ErrorIs(t, err, types.ErrInvalidClientInfo)
}

func TestCatalogLen(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Declare("a", "FTB.ONE", []types.EventInfo{{Name: "A", Severity: "INFO"}, {Name: "B", Severity: "INFO"}}))
	require.NoError(t, c.Declare("b", "FTB.TWO", []types.EventInfo{{Name: "A", Severity: "INFO"}}))

	decls, spaces := c.Len()
	assert.Equal(t, 3, decls)
	assert.Equal(t, 2, spaces)
}

func TestCatalogConcurrentSpaces(t *testing.T) {
	c := NewCatalog()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			space := fmt.Sprintf("FTB.SPACE%d", i%4)
			client := fmt.Sprintf("client-%d", i)
			name := fmt.Sprintf("EV_%d", i)
			assert.NoError(t, c.Declare(client, space, []types.EventInfo{{Name: name, Severity: "INFO"}}))
			c.Undeclare(client, space)
		}(i)
	}
	wg.Wait()

	decls, _ := c.Len()
	assert.Equal(t, 0, decls)
}
