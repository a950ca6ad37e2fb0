// Package pipeline turns audio into blendshape frames.
//
// A Pipeline owns one logical audio stream: the rolling sample buffer, the
// output decoder and the last emitted frame used for temporal smoothing. It
// scores 8320-sample windows (0.52 s at 16 kHz) with a 50% overlap through an
// injected inference.Runner.
//
// Two modes are supported:
//
//   - ProcessFile slices a whole clip into windows, scores each one and
//     averages the frames into a single AggregateResult. No smoothing.
//   - ProcessChunk appends live audio. Until a full window is buffered it
//     returns the last frame (or an all-zero frame); afterwards every call
//     scores exactly one window and blends it with the previous frame.
//
// A Pipeline is not meant to be shared between producers. Use one instance
// per stream; the stream package does this for network sessions.
package pipeline
