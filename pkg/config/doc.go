// Package config loads hostgate configuration.
//
// Configuration is read from a YAML file, then HOSTGATE_* environment
// variables override individual keys, then the result is validated:
//
//	cfg, err := config.Load("/etc/hostgate/hostgate.yaml")
//
// A missing path loads defaults plus environment overrides, which is enough
// when the resource ID is supplied through HOSTGATE_RESOURCE_ID.
//
// Environment variables:
//
//	HOSTGATE_RESOURCE_ID    resource.id
//	HOSTGATE_REGION         resource.region (falls back to AWS_REGION)
//	HOSTGATE_SETTLE_DELAY   resource.settle_delay
//	HOSTGATE_DB_PATH        store.path
//	HOSTGATE_LEASE_TTL      store.lease_ttl
//	HOSTGATE_HEALTH_URL     health.url
//	HOSTGATE_LOG_LEVEL      telemetry.logging.level
//	HOSTGATE_LOG_FORMAT     telemetry.logging.format
//	HOSTGATE_METRICS_ADDR   telemetry.metrics.listen_address
//	HOSTGATE_RETRY_MAX_ATTEMPTS retry.max_attempts
package config
