// Package app assembles the license authority server: configuration,
// logging, telemetry, PostgreSQL storage, the license domain services,
// the HTTP API and the renewal reminder scanner.
package app
