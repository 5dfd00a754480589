// Package server implements the Fuzzu chat relay: a newline-delimited JSON
// protocol over plain TCP, with a WebSocket bridge carrying the same frames.
//
// The implementation is organized into specialized files for the wire format,
// framed connections, the hub (registry plus broadcast fan-out), per-session
// state machines, and transports to keep the codebase maintainable and
// testable as the project grows.
package server
