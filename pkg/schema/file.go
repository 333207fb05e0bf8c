package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/ftb/pkg/types"
	"gopkg.in/yaml.v3"
)

// File is one event space section of a schema file:
//
//	event_space: FTB.FTB_EXAMPLES.watchdog
//	events:
//	  - name: WATCH_DOG_EVENT
//	    severity: INFO
//
// A schema file may hold several sections as separate YAML documents.
type File struct {
	EventSpace string            `yaml:"event_space" json:"event_space"`
	Events     []types.EventInfo `yaml:"events" json:"events"`
}

// Validate checks the event space and every event entry
func (f *File) Validate() error {
	if err := types.ValidateEventSpace(f.EventSpace); err != nil {
		return fmt.Errorf("schema %q: %w", f.EventSpace, err)
	}
	for _, ev := range f.Events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("schema %q: %w", f.EventSpace, err)
		}
	}
	return nil
}

// Parse decodes every YAML document in r
func Parse(r io.Reader) ([]File, error) {
	dec := yaml.NewDecoder(r)
	var files []File
	for {
		var f File
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		if f.EventSpace == "" && len(f.Events) == 0 {
			continue
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// LoadFile reads and parses the schema file at path
func LoadFile(path string) ([]File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer fh.Close()

	return Parse(fh)
}
