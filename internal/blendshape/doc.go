// Package blendshape decodes raw model output into facial blendshape frames.
// It owns the canonical name table, the output layout descriptor, temporal
// smoothing for streaming and averaging for batch aggregation.
package blendshape
