// Package inference defines the scoring contract between the blendshape
// pipeline and a pre-trained audio-to-face model, and provides the backends
// that satisfy it.
//
// The pipeline only ever sees a Runner: named float32 tensors in, named
// float32 tensors out. Two backends are available:
//
//   - onnx: an in-process ONNX Runtime session, optionally on CUDA with a
//     silent fallback to CPU when the accelerated provider cannot be created.
//   - remote: an HTTP client speaking the KServe v2 inference protocol
//     (Triton, KServe, or the bundled mock server), with bounded concurrency
//     and retries.
//
// Open selects a backend from configuration. Shared wraps a runner so that
// per-stream pipelines can be disposed without closing the model they share.
package inference
