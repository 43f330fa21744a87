// Package vision implements fixed-template matching for the automation engine.
//
// Scores are zero-mean normalised cross-correlation over 8-bit luma, the same
// measure OpenCV calls TM_CCOEFF_NORMED, computed with exact integer sums so a
// given (screen, template) pair always yields the same confidence and box.
//
// Matching cost grows with search area times template area. Two knobs keep it
// bounded on full-resolution phone captures:
//   - Candidate.Region restricts the search to a known part of the screen.
//   - Options.Scale runs a coarse pass on downscaled images and refines the
//     peak at full resolution.
//
// Row bands are scanned concurrently; the merge is order-preserving so the
// first position in raster order wins ties regardless of scheduling.
package vision
