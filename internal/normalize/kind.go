package normalize

import (
	"bytes"
	"strings"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// Kind is the closed set of source families the normalizer dispatches on.
type Kind int

const (
	KindRaster Kind = iota // png, jpeg, webp and anything else the stock decoders might read
	KindTIFF
	KindLegacy // bmp, gif, ico and similar older containers
	KindVector // svg
)

func (k Kind) String() string {
	switch k {
	case KindTIFF:
		return "tiff"
	case KindLegacy:
		return "legacy"
	case KindVector:
		return "vector"
	default:
		return "raster"
	}
}

var (
	tiffMediaTypes   = []string{"image/tiff", "image/tif", "image/x-tiff"}
	vectorMediaTypes = []string{"image/svg+xml", "image/svg"}
	legacyMediaTypes = []string{"image/bmp", "image/x-bmp", "image/x-ms-bmp", "image/gif", "image/x-icon", "image/vnd.microsoft.icon"}

	tiffExts   = []string{".tif", ".tiff"}
	vectorExts = []string{".svg", ".svgz"}
	legacyExts = []string{".bmp", ".dib", ".gif", ".ico"}
)

// Classify determines the kind of a source. Recognizable leading bytes
// decide; the media type and file extension only classify data whose bytes
// match no known signature. Among declared signals the precedence is TIFF,
// Vector, Legacy, Raster.
func Classify(src imaging.SourceImage) Kind {
	if k, ok := kindFromMagic(src.Data); ok {
		return k
	}
	mt := strings.ToLower(strings.TrimSpace(src.MediaType))
	ext := src.Ext()

	switch {
	case contains(tiffMediaTypes, mt) || contains(tiffExts, ext):
		return KindTIFF
	case contains(vectorMediaTypes, mt) || contains(vectorExts, ext):
		return KindVector
	case contains(legacyMediaTypes, mt) || contains(legacyExts, ext):
		return KindLegacy
	default:
		return KindRaster
	}
}

func kindFromMagic(b []byte) (Kind, bool) {
	switch {
	case isTIFFMagic(b):
		return KindTIFF, true
	case isRasterMagic(b):
		return KindRaster, true
	case isLegacyMagic(b):
		return KindLegacy, true
	case isSVGMagic(b):
		return KindVector, true
	}
	return KindRaster, false
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isTIFFMagic(b []byte) bool {
	return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
}

func isRasterMagic(b []byte) bool {
	return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) ||
		bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) ||
		(len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")))
}

func isSVGMagic(b []byte) bool {
	head := b
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n")
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

func isLegacyMagic(b []byte) bool {
	return bytes.HasPrefix(b, []byte("BM")) ||
		bytes.HasPrefix(b, []byte("GIF87a")) ||
		bytes.HasPrefix(b, []byte("GIF89a")) ||
		bytes.HasPrefix(b, []byte("\x00\x00\x01\x00"))
}
