/*
Package config loads the ftb server configuration.

Values come from, in increasing precedence: built-in defaults, a YAML file,
FTB_* environment variables and command-line flags bound into the viper
instance returned by New. Nested keys use an underscore in the
environment, so backplane.queue_depth is FTB_BACKPLANE_QUEUE_DEPTH.

	api_addr: 0.0.0.0:7946
	metrics_addr: 0.0.0.0:9090
	data_dir: /var/lib/ftb
	cert_dir: /etc/ftb/certs
	log:
	  level: info
	  json: true
	backplane:
	  queue_depth: 1024
	  max_payload: 368
	  idle_timeout: 5m
	filter:
	  hierarchical_spaces: true
	schema_files:
	  - /etc/ftb/schema/watchdog.yaml
*/
package config
