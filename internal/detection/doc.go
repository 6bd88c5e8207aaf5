// Package detection segments a normalized capture into regions and classifies
// them by visual structure.
//
// It works on a binary ink Mask (dark-on-light after normalization) and
// implements the layout-analysis half of preprocessing: skew estimation,
// region finding, reading-order sorting, rule detection and classification.
//
// # Algorithm Overview
//
// Segmentation follows a classic document layout pipeline:
//
//  1. Binarization: threshold the grayscale capture into an ink Mask
//  2. Skew Estimation: pick the rotation whose horizontal projection profile is
//     sharpest (text lines collapse into narrow, tall peaks)
//  3. Smearing: run-length smoothing fills short background gaps so glyphs
//     merge into words, lines and paragraphs
//  4. Components: 8-connected flood fill over the smeared mask yields blocks
//  5. Merging and Ordering: overlapping blocks are merged, then sorted into
//     reading order (rows top-to-bottom, blocks in a row left-to-right)
//  6. Classification: long ruled lines, fraction bars and line-height variance
//     distinguish PlainText, Table, Formula and Mixed regions
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - Bounding boxes use inclusive top-left and exclusive bottom-right
//
// # Determinism
//
// No step uses randomness or map iteration order. Identical masks always
// produce identical regions, ordering and classes.
//
// # Limitations
//
// The heuristics target screen content: rendered UI text, documents, code,
// spreadsheets and typeset math. Photographs or hand-drawn content may produce
// poor results.
package detection
