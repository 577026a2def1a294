package imaging

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// createTestImage writes a w×h PNG filled with c into a temp dir and returns
// its path.
func createTestImage(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "test-image.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func TestLoadSource(t *testing.T) {
	path := createTestImage(t, 20, 10, color.RGBA{255, 0, 0, 255})

	src, err := LoadSource(path)
	if err != nil {
		t.Fatalf("LoadSource failed: %v", err)
	}
	if src.Name != "test-image.png" {
		t.Errorf("Name: got %q, want test-image.png", src.Name)
	}
	if src.MediaType != "image/png" {
		t.Errorf("MediaType: got %q, want image/png", src.MediaType)
	}
	if len(src.Data) == 0 {
		t.Error("Data should not be empty")
	}
}

func TestLoadSource_Errors(t *testing.T) {
	if _, err := LoadSource("/nonexistent/path/image.png"); err == nil {
		t.Error("LoadSource should fail for non-existent file")
	}

	empty := filepath.Join(t.TempDir(), "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSource(empty); err == nil {
		t.Error("LoadSource should fail for an empty file")
	}
}

func TestNewSource_MediaType(t *testing.T) {
	pngMagic := []byte("\x89PNG\r\n\x1a\n0000")

	tests := []struct {
		name      string
		data      []byte
		mediaType string
		fileName  string
		want      string
	}{
		{"declared wins", pngMagic, "image/tiff", "a.png", "image/tiff"},
		{"from extension", nil, "", "photo.JPG", "image/jpeg"},
		{"sniffed", pngMagic, "", "noext", "image/png"},
		{"nothing known", nil, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSource(tt.data, tt.mediaType, tt.fileName)
			if src.MediaType != tt.want {
				t.Errorf("MediaType: got %q, want %q", src.MediaType, tt.want)
			}
		})
	}
}

func TestSourceImage_Fingerprint(t *testing.T) {
	a := NewSource([]byte("one"), "image/png", "a.png")
	b := NewSource([]byte("one"), "image/png", "b.png")
	c := NewSource([]byte("two"), "image/png", "a.png")

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should depend on content only")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different content should have different fingerprints")
	}
	if len(a.Fingerprint()) != 12 {
		t.Errorf("fingerprint length: got %d, want 12", len(a.Fingerprint()))
	}
	if a.Ext() != ".png" {
		t.Errorf("Ext: got %q, want .png", a.Ext())
	}
}
