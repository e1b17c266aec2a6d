// Package harness runs the probe scenarios against a recognition service:
// connection, synthetic and WAV requests plus a stress loop over the framed
// transport, and a full streaming session over WebSocket. Each scenario ends
// up as a CaseResult carrying the phase and kind of its failure.
package harness
