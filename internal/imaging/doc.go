// Package imaging is the raster surface layer of the pipeline.
//
// It wraps a 2D drawable pixel buffer behind the Surface type (allocate, draw,
// sample, read pixels, encode) and provides the small set of raster helpers
// the other stages share: source loading and fingerprinting, crop and fit
// geometry, edge-density focal points, placeholder palettes and text labels.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, Min is inclusive (top-left) and Max is exclusive (bottom-right)
//
// # Raster Representation
//
// Decoded rasters are *image.NRGBA values whose bounds start at (0,0).
// ToNRGBA converts any image.Image to that form, returning the input
// unchanged when it already conforms. A raster belongs to the stage that
// created it and is never cached across requests.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Non-positive surface dimensions
//   - Regions outside the surface bounds
//   - Encoding failures (classified as failure.KindEncode)
//
// # Thread Safety
//
// A Surface is not safe for concurrent mutation. The package-level helpers
// are stateless apart from the lazily parsed label font, which is guarded
// by a sync.Once.
package imaging
