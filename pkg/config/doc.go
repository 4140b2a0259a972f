// Package config provides the configuration for the QuickStats connector, the ingest
// runner and the output sinks.
//
// A single Config structure is organized into sections:
//
//   - API: base URL, credential, page size and pagination parameter names
//   - Performance: job concurrency and transport tuning
//   - Timeouts: request, connection and idle timeouts
//   - Reliability: retries, circuit breaker, client-side rate limit and job pacing
//   - Observability: logging, metrics and tracing
//   - Catalog, State, Output: what to ingest, where progress lives, where data goes
//
// # Loading
//
//	cfg, err := config.Load("quickstats.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Values written as ${VAR_NAME} are substituted from the environment before parsing,
// and NASS_API_KEY always overrides api.api_key:
//
//	# quickstats.yaml
//	api:
//	  api_key: ${NASS_API_KEY}
//	  page_size: 50000
//	output:
//	  type: s3
//	  bucket: ${NASS_BUCKET}
//
// LoadDotEnv reads a .env file first so that local runs need no exported variables.
package config
