// Package stream implements the streaming duplex WebSocket session. A
// session sends a start signal, pushes paced binary audio chunks while a
// concurrent receiver classifies results, then sends an end signal and
// drains the receiver for a bounded time before closing.
//
// Lifecycle: disconnected -> connected -> streaming -> draining -> closed.
package stream
