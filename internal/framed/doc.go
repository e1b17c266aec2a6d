// Package framed implements the length-prefixed TCP client. Every request is
// one frame of raw PCM and every response one frame holding a JSON object.
// A connection carries at most one request at a time.
package framed
