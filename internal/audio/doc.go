// Package audio handles the PCM side of the harness.
// It computes chunk sizes from the audio format, decodes and encodes WAV files,
// synthesizes test tones, splits a source into fixed-size chunks and records
// audio received by the mock server.
package audio
