// Package audio decodes clips and packet payloads into mono float samples,
// resamples them to the 16 kHz model rate and cuts the stream into the
// overlapping windows the model scores.
package audio
