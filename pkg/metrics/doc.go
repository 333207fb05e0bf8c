/*
Package metrics exposes backplane metrics in Prometheus format together with
the component health probes served next to them.

Collectors are package-level variables registered in init and updated
directly by the packages that own the measured behaviour: the pipeline
counts publishes and overflows, the delivery queue counts deliveries and
callback failures, the API interceptors count requests. Gauges describing
registry size are sampled by a Collector from any StatsSource.

	collector := metrics.NewCollector(bp, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	http.ListenAndServe(":9090", metrics.Default().Mux())

Timer measures an operation and observes it on a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PublishDuration)
*/
package metrics
