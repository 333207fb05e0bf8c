/*
Package health provides the checks behind the probe command and the
watchdog.

A Checker performs one check and returns a Result. Status folds successive
results into a verdict that only turns unhealthy after Config.Retries
consecutive failures, so a single lost heartbeat is tolerated.

HTTPChecker and TCPChecker probe a running server from the outside. The
watchdog package supplies a backplane checker that publishes a heartbeat
and polls it back.

	status := health.NewStatus()
	cfg := health.DefaultConfig()
	status.Update(health.Run(ctx, health.NewTCPChecker("localhost:7400"), cfg), cfg)
*/
package health
