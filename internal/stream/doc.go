// Package stream manages live audio streams. Each stream id gets its own
// session holding a pipeline, so smoothing state and buffered audio never
// leak between clients, while all sessions share one inference runner.
// Sessions idle for longer than the configured timeout are disposed by a
// background cleanup routine.
package stream
