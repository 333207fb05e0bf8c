/*
Package log provides structured logging for the backplane using zerolog.

A single global Logger is configured once with Init. Packages derive child
loggers that carry the identifiers relevant to them:

	logger := log.WithComponent("pipeline")
	logger.Warn().
		Str("subscription_id", sub.ID).
		Err(err).
		Msg("Dropped event on full queue")

WithEventSpace and WithSubscriptionID add the matching field.
Console output is the default; JSONOutput switches to one JSON object per
line for log shippers.
*/
package log
