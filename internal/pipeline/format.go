package pipeline

import (
	"bytes"
	"strings"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/normalize"
)

// resolveFormat turns FormatOriginal into a concrete codec. TIFF, legacy
// and vector sources have no encoder here and become PNG, as do rasters
// whose codec cannot be told.
func resolveFormat(f imaging.Format, src imaging.SourceImage, kind normalize.Kind) imaging.Format {
	if f != imaging.FormatOriginal {
		return f
	}
	if kind != normalize.KindRaster {
		return imaging.FormatPNG
	}

	mt := strings.ToLower(src.MediaType)
	ext := src.Ext()
	switch {
	case mt == "image/jpeg" || ext == ".jpg" || ext == ".jpeg" || bytes.HasPrefix(src.Data, []byte{0xFF, 0xD8, 0xFF}):
		return imaging.FormatJPEG
	case mt == "image/webp" || ext == ".webp" || isWebP(src.Data):
		return imaging.FormatWebP
	default:
		return imaging.FormatPNG
	}
}

func isWebP(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
}
