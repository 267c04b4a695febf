// Package memory provides map-backed storage for dry runs and tests.
//
// The sink accepts a WriteFunc hook that can fail individual writes, which
// lets tests simulate a partially or fully unavailable sink.
package memory
