// Package schema implements the event schema catalog: the per event space
// set of event names clients may publish, and the YAML schema files used to
// pre-load it.
package schema
