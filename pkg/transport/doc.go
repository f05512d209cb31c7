// Package transport defines the adapter contract shared by the native and the
// remote backends, the error taxonomy surfaced to callers and the data frame
// both multiplexers put on the wire.
//
// Key concepts:
//   - Adapter: owns one backend's connection table and channel plumbing and
//     exposes send/broadcast/receive/disconnect with an identical shape
//   - Endpoints: resolved listen or target addresses handed to Adapter.Setup
//   - Frame: [channel id][payload]; the empty frame is a heartbeat
//
// Implementations live in the native and remote subpackages.
package transport
