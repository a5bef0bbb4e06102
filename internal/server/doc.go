// Package server implements the HTTP surface of the relay service.
//
// The implementation is organized into specialized files for configuration,
// routing, origin validation, and HTTP handlers. The room-broadcast core
// lives in the relay package; this package only authenticates handshakes and
// hands admitted connections to the hub.
package server
