// Package protocol implements the binary wire protocol between a render
// worker and a viewer.
//
// The protocol is a strictly alternating, half-duplex exchange over a
// single byte stream. It carries no message tags and no version: both
// peers must be built from the same schema and agree on which optional
// fields follow a record by looking at the flags inside it.
//
// # Encoding
//
//   - Fixed-width integers and floats in host byte order
//   - Booleans as one byte (0x00 or 0x01)
//   - Strings and byte payloads prefixed with a uint64 length
//   - Sequences prefixed with a uint64 element count
//
// # Session
//
// After the connection is established the worker sends the metadata once:
//
//	┌────────────────┬────────────────┬───────────────┬───────────────┐
//	│ Variables      │ Timesteps      │ Selected var  │ Selected step │
//	│ ([]string)     │ ([]uint64)     │ (string)      │ (uint64)      │
//	└────────────────┴────────────────┴───────────────┴───────────────┘
//
// Then the two sides alternate until the viewer sets the quit flag:
//
//	worker → viewer:  [len: uint64][JPEG bytes][cost ms: int32]  flush
//	viewer → worker:  [AppState: 60 bytes]
//	                  [variable: string]              if FieldChanged
//	                  [colors: []Vec3][opacities: []float32]
//	                                                  if TransferFunctionChanged
//	                  flush
//
// There is no pipelining: each side writes exactly one message and then
// waits for the other.
//
// # Limits
//
// Reader enforces Limits on every length prefix and element count. A
// violation means the peers disagree about the schema; the session
// cannot continue.
package protocol
