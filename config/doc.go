// Package config loads the process configuration of a slotbus host.
//
// A configuration file is YAML (.yaml, .yml) or JSON (.json):
//
//	version: "1.0.0"
//	logging: {level: info, format: json}
//	metrics: {enabled: true, port: 9090, path: /metrics}
//	nats: {url: "nats://localhost:4222", subject_prefix: slotbus, publish_rate: 100, publish_burst: 10}
//	workers:
//	  - name: io
//	services:
//	  - uid: ticker
//	    type: ticker
//	    out: {key: value}
//	  - uid: printer
//	    type: printer
//	    worker: io
//	    in:
//	      key: value
//	      uid: ticker/value
//	      auto_connect: true
//
// Each services entry becomes a types.ConfigTree in document order; sequences
// become repeated keys, so several in entries can be written as a list.
// Environment variables prefixed with SLOTBUS_ override the logging level and
// format, the NATS URL and the metrics port.
//
// ValidateTree checks a service tree against the JSON schema a service type
// declares; the service package calls it while configuring.
package config
