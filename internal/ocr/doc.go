// Package ocr extracts text and formula markup from segment images.
//
// Two backends are provided:
//
//   - Tesseract, via gosseract/v2. Requires a cgo build with libtesseract and
//     the language data for every configured language installed. Builds
//     without cgo get a backend that fails every call with RecognitionError.
//   - Mathpix, an optional HTTP formula extractor used for Formula segments
//     when ocr.mathpix_app_id and ocr.mathpix_app_key are configured.
//
// Prerequisites:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-chi-sim
//   - macOS: brew install tesseract tesseract-lang
//
// Raw engine output is cleaned with Clean before it is handed on: hyphenated
// line breaks are joined, lines within a paragraph are merged and paragraph
// spacing is normalized.
package ocr
