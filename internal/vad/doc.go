// Package vad provides an energy-based voice activity detector. Audio is cut
// into fixed windows, each window's RMS energy is normalized to a 0-1
// probability and compared against a threshold. The mock server uses it to
// decide which chunks carry speech and what text to fabricate.
package vad
