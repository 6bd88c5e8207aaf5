// Package imaging provides the raster operations used to prepare captured screen
// regions for recognition.
//
// This package decodes capture payloads, estimates the page background, normalizes
// contrast and polarity, rotates, crops segments for the OCR engine, and renders
// debug overlays of segmentation results. All operations work with standard Go
// image.Image types and use a coordinate system where (0,0) is at the top-left
// corner, X increases rightward, and Y increases downward.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For rectangles, Min is inclusive (top-left) and Max is exclusive (bottom-right)
//
// # Determinism
//
// Every function in this package is a pure function of its inputs. Identical
// payload bytes always decode, normalize and crop to identical pixels, which the
// segmentation stage relies on for stable segment boundaries.
//
// # Thread Safety
//
// Functions are stateless and never mutate their input images, so they can be
// called concurrently from recognition workers.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Empty, truncated or unsupported payloads
//   - Images larger than MaxPixels
//   - Crop rectangles that do not intersect the image
package imaging
