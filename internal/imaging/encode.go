package imaging

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
)

// Format is an output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"

	// FormatOriginal asks for the source's own codec. It must be resolved to a
	// concrete format before encoding.
	FormatOriginal Format = "original"
)

// ParseFormat maps a user-supplied format name to a Format. The empty string
// means FormatOriginal.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "original":
		return FormatOriginal, nil
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// MediaType returns the MIME type written for the format.
func (f Format) MediaType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return ""
	}
}

// Encode serializes img as format.
//
// Parameters:
//   - img: Raster to encode.
//   - format: One of FormatPNG, FormatJPEG or FormatWebP.
//   - quality: 1-100 for lossy codecs. 100 selects lossless WebP. Values
//     outside the range are clamped; PNG ignores it.
//
// Returns:
//   - []byte: Encoded bytes.
//   - error: A failure.KindEncode error if the format is unresolved or the
//     codec fails.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	quality = clamp(quality, 1, 100)

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: quality, Lossless: quality == 100})
	default:
		return nil, failure.Newf(failure.KindEncode, "encode", "no encoder for format %q", format)
	}
	if err != nil {
		return nil, failure.New(failure.KindEncode, "encode "+string(format), err)
	}
	if buf.Len() == 0 {
		return nil, failure.Newf(failure.KindEncode, "encode "+string(format), "encoder produced no bytes")
	}
	return buf.Bytes(), nil
}
