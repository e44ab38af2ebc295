package utils

import "os"

var (
	DELTA_ROOT     = GetEnvOrDefault("DELTA_ROOT", "./delta.db")
	DELTA_DISCOVER = GetEnvOrDefault("DELTA_DISCOVER", "1") == "1"
	// records or frame
	DELTA_OUTPUT = GetEnvOrDefault("DELTA_OUTPUT", "records")

	// log or crdb
	METASTORE = GetEnvOrDefault("METASTORE", "log")
	CRDB_DSN  = os.Getenv("CRDB_DSN")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_ENDPOINT  = os.Getenv("S3_ENDPOINT")
	S3_CACHE_DIR = os.Getenv("S3_CACHE_DIR")

	CONNECTORS_FILE = os.Getenv("CONNECTORS_FILE")
)

var (
	HTTP_PORT          = GetEnvOrDefault("HTTP_PORT", "8090")
	DUCKDB_THREADS     = GetEnvOrDefaultInt("DUCKDB_THREADS", 0)
	SHUTDOWN_SLEEP_SEC = GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
)
