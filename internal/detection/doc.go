// Package detection finds candidate subjects in a raster for smart cropping.
//
// Every backend implements Detector and returns Predictions: a bounding box,
// a class label and a confidence in [0, 1]. Scoring and filtering belong to
// the smart crop engine; detectors report everything they see.
//
// # Backends
//
//   - remote: an HTTP detection service. The raster is POSTed as a PNG in a
//     multipart "file" field and the service answers with
//     {"detections":[{"x","y","width","height","class","confidence"}]}.
//   - tesseract: text blocks found by Tesseract, reported with class "text".
//     Only built with cgo and the "tesseract" build tag.
//   - contours: connected edge outlines, reported with class "object".
//   - text: edge-density text-line heuristic, reported with class "text".
//   - standin: a single synthetic "person" covering the middle of the frame.
//
// # Coordinate System
//
// Boxes use the raster's own coordinates: origin (0, 0) at the top-left,
// X rightward, Y downward. Width and height are in pixels.
//
// # Availability
//
// Open resolves a backend by name and checks it once. A backend that cannot
// be reached, or that this build does not support, resolves to the stand-in
// so callers always get a working Detector.
package detection
