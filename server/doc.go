/*
Package server provides the HTTP interface to mipvol operations: reading cutouts,
ingesting produced patches, and dispatching downsample tasks against a single
configured volume store.

Configuration is read from a TOML file:

	[server]
	httpAddress = "localhost:8000"
	allowed_origins = ["http://localhost:3000"]
	shutdown_delay = 5

	[logging]
	logfile = "./mipvol.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[store]
	engine = "ngprecomputed"
	ref = "gs://my-bucket/volumes"

	[cache]
	size = 1024 # MB

	[downsample]
	factor = [1, 2, 2]
	queue = "kafka"

	[kafka]
	servers = ["kafka1:9092"]
	topic = "mipvol-downsample"
*/
package server
