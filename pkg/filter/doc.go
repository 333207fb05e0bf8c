/*
Package filter compiles subscription filter strings into predicates over
published events.

A filter is a conjunction of key=value clauses separated by ';' or ',':

	event_name=FAIL; severity=INFO
	event_space=FTB.all.watchdog
	hostname=*

Keys are event_space, severity, event_name, client_name, hostname and jobid,
matched case-insensitively. Values are compared exactly unless they are a
wildcard token ("all" or "*" by default). Unknown keys, empty values and
values longer than the corresponding event field fail with
types.ErrInvalidFilterSyntax. An empty filter matches every event.

event_space values are dot separated paths. With hierarchical matching
(the default) each segment may be a wildcard and a pattern with fewer
segments matches every space beneath it, so "FTB" matches "FTB.MPI.mpich".
Case folding of event_space values is off by default and can be enabled
with WithSpaceCaseFolding.
*/
package filter
