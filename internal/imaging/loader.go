package imaging

import (
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// SourceImage is an immutable, caller-owned input: the raw bytes of an image
// file together with its declared media type and name.
//
// Neither MediaType nor Name is trusted on its own; the normalizer combines
// both with the leading bytes of Data when classifying the source.
type SourceImage struct {
	// Data holds the undecoded file contents.
	Data []byte

	// MediaType is the declared MIME type (e.g. "image/tiff"). May be empty.
	MediaType string

	// Name is the file name or logical name. Used for extension-based
	// classification, size hints and placeholder labels.
	Name string
}

// NewSource builds a SourceImage from in-memory bytes.
//
// When mediaType is empty it is derived from the name's extension, and
// failing that, sniffed from the content with http.DetectContentType.
func NewSource(data []byte, mediaType, name string) SourceImage {
	if mediaType == "" {
		mediaType = mediaTypeFor(name, data)
	}
	return SourceImage{Data: data, MediaType: mediaType, Name: name}
}

// LoadSource reads an image file from disk into a SourceImage.
//
// Parameters:
//   - path: Absolute or relative file path. Any format is accepted here;
//     classification and decoding happen in the normalizer.
//
// Returns:
//   - SourceImage: The file contents, media type and base name.
//   - error: Non-nil if the file cannot be read or is empty.
func LoadSource(path string) (SourceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return SourceImage{}, fmt.Errorf("image file is empty: %s", path)
	}
	return NewSource(data, "", filepath.Base(path)), nil
}

// Ext returns the lower-cased file extension of the source name, including
// the leading dot, or "" when the name has none.
func (s SourceImage) Ext() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

// Fingerprint returns a short blake3 digest of the source bytes. It keys log
// lines and seeds placeholder colors so the same input always renders the
// same placeholder.
func (s SourceImage) Fingerprint() string {
	sum := blake3.Sum256(s.Data)
	return hex.EncodeToString(sum[:6])
}

func mediaTypeFor(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if mt := mime.TypeByExtension(strings.ToLower(ext)); mt != "" {
			if i := strings.IndexByte(mt, ';'); i >= 0 {
				mt = mt[:i]
			}
			return mt
		}
	}
	if len(data) == 0 {
		return ""
	}
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}
