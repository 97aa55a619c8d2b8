// Package api implements the HTTP control transport for the cdp daemon.
//
// This package provides:
//   - REST endpoints for listing, creating, removing, opening and closing devices
//   - A raw control endpoint carrying an encoded command and its 56-byte record
//   - An exclusive WebSocket control session
//   - Audit and inventory queries
//   - Bearer JWT authentication with role permissions
//
// # Architecture
//
// Every state-changing command goes through control.Dispatcher, so the
// REST, raw and WebSocket paths share one validation pipeline, one audit
// trail and one errno mapping. Errors carry the errno name alongside an
// HTTP status derived from it.
//
// # Control session
//
// At most one WebSocket control session is open at a time. A second
// upgrade request is refused with 409 Conflict and errno EBUSY until the
// first session disconnects.
package api
