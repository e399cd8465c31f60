// Package capture abstracts the host's microphone capture capability.
// It defines the device access/session contract consumed by the recorder,
// a miniaudio-backed implementation, and an in-memory fake for tests.
package capture
