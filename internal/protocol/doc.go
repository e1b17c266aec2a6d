// Package protocol implements the wire formats of both recognition transports.
// It handles the 4-byte little-endian length framing of the TCP binding and the
// JSON control signals and recognition results of the WebSocket binding.
package protocol
