// Package config provides configuration loading and validation for the
// Saturn server.
//
// # Overview
//
// Configuration is loaded from a YAML file, overlaid with environment
// variables, defaulted, and validated before anything starts. Validation
// collects every problem instead of stopping at the first, so a broken
// file is fixed in one pass.
//
// # Loading
//
//	cfg, err := config.LoadConfigWithEnvOverrides("saturn.yaml")
//	if err != nil {
//	    var verr config.ValidationError
//	    if errors.As(err, &verr) {
//	        for _, fe := range verr.Errors {
//	            fmt.Println(fe.Field, fe.Message)
//	        }
//	    }
//	    return err
//	}
//
// # File Format
//
//	server:
//	  listen_address: "127.0.0.1:8080"
//	  shutdown_timeout: 30s
//
//	limiter:
//	  default_limits: "100 per minute; 2000 per hour"
//	  storage_url: "redis://localhost:6379"
//	  strategy: "moving-window"
//	  failure_policy: "fail-closed"
//	  key_prefix: "saturn"
//
//	tiers:
//	  enabled: true
//	  path: "./tiers.yaml"
//	  watch: true
//
//	journal:
//	  enabled: true
//	  path: "data/journal.db"
//	  retention:
//	    days: 30
//	    schedule: "0 3 * * *"
//
//	logging:
//	  level: info
//	  format: json
//
//	metrics:
//	  enabled: true
//	  path: /metrics
//
// # Environment Variables
//
// Every field can be overridden with a SATURN_SECTION_FIELD variable,
// which always wins over the file:
//
//	SATURN_SERVER_LISTEN_ADDRESS=0.0.0.0:9090
//	SATURN_LIMITER_STORAGE_URL=redis://cache:6379
//	SATURN_LIMITER_DEFAULT_LIMITS="10 per second"
//	SATURN_LOGGING_LEVEL=debug
package config
