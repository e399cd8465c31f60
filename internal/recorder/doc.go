// Package recorder implements the voice-take state machine. A Controller
// owns at most one live take at a time, moving through Idle, Recording,
// Paused, Stopped, and PermissionDenied in response to the five commands
// and the capture device's fragment/finalize events.
package recorder
