package normalize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/image/tiff"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
	pimg "github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

func newTestNormalizer() *Normalizer {
	return New(Limits{MaxTextureSize: 4096, MaxPixels: 4096 * 4096}, zerolog.Nop())
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	pngMagic := []byte("\x89PNG\r\n\x1a\n")
	tests := []struct {
		name      string
		data      []byte
		mediaType string
		fileName  string
		want      Kind
	}{
		{"png", pngMagic, "image/png", "a.png", KindRaster},
		{"tiff by media type", []byte("????"), "image/tiff", "a.png", KindTIFF},
		{"png bytes beat tiff label", pngMagic, "image/tiff", "photo.tif", KindRaster},
		{"jpeg bytes beat svg label", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/svg+xml", "x.svg", KindRaster},
		{"webp bytes beat gif extension", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), "", "x.gif", KindRaster},
		{"gif bytes beat tiff extension", []byte("GIF89a"), "", "x.tif", KindLegacy},
		{"tiff by extension", nil, "application/octet-stream", "scan.TIF", KindTIFF},
		{"tiff by magic", []byte("MM\x00*rest"), "image/png", "a.png", KindTIFF},
		{"svg by media type", nil, "image/svg+xml", "logo", KindVector},
		{"svg by content", []byte("<?xml version=\"1.0\"?>\n<svg xmlns=\"http://www.w3.org/2000/svg\"/>"), "text/xml", "logo.xml", KindVector},
		{"bmp by magic", []byte("BM\x00\x00"), "", "file", KindLegacy},
		{"gif by extension", nil, "", "anim.gif", KindLegacy},
		{"tiff beats vector", []byte("II*\x00"), "image/svg+xml", "x.svg", KindTIFF},
		{"unknown is raster", []byte("hello"), "", "x.dat", KindRaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := pimg.SourceImage{Data: tt.data, MediaType: tt.mediaType, Name: tt.fileName}
			if got := Classify(src); got != tt.want {
				t.Errorf("Classify: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_PNG(t *testing.T) {
	n := newTestNormalizer()
	src := pimg.NewSource(encodePNG(t, solid(40, 30, color.NRGBA{10, 20, 30, 255})), "image/png", "a.png")

	res := n.Normalize(context.Background(), src, Request{Width: 100, Height: 100})
	if res.Placeholder {
		t.Fatalf("unexpected placeholder: %v", res.Err)
	}
	if res.Decoder != DecoderRaster || res.Kind != KindRaster {
		t.Errorf("decoder/kind: got %s/%v", res.Decoder, res.Kind)
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 40, 30) {
		t.Errorf("bounds: got %v, want 40x30", res.Raster.Bounds())
	}
	if res.Detail() != "" {
		t.Errorf("Detail: got %q, want empty", res.Detail())
	}
}

func TestNormalizeRaster_Idempotent(t *testing.T) {
	n := newTestNormalizer()
	img := solid(16, 8, color.NRGBA{1, 2, 3, 255})

	once := n.NormalizeRaster(img)
	twice := n.NormalizeRaster(once)
	if once != img || twice != once {
		t.Error("normalizing a normalized raster should return it unchanged")
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if out := n.NormalizeRaster(rgba); n.NormalizeRaster(out) != out {
		t.Error("second normalization of a converted raster should be a no-op")
	}
}

func TestNormalize_DownsamplesOversize(t *testing.T) {
	n := New(Limits{MaxTextureSize: 32, MaxPixels: 32 * 32}, zerolog.Nop())
	src := pimg.NewSource(encodePNG(t, solid(64, 16, color.NRGBA{255, 0, 0, 255})), "", "wide.png")

	res := n.Normalize(context.Background(), src, Request{})
	if !res.Downsampled {
		t.Error("expected the raster to be downsampled")
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 32, 8) {
		t.Errorf("bounds: got %v, want 32x8", res.Raster.Bounds())
	}
}

func TestNormalize_NativeTIFF(t *testing.T) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, solid(12, 9, color.NRGBA{0, 128, 0, 255}), nil); err != nil {
		t.Fatalf("tiff encode: %v", err)
	}
	res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource(buf.Bytes(), "image/tiff", "a.tif"), Request{})
	if res.Placeholder || res.Decoder != DecoderTIFFNative {
		t.Fatalf("got decoder %s placeholder=%v err=%v", res.Decoder, res.Placeholder, res.Err)
	}
	if res.Raster.Bounds().Dx() != 12 || res.Raster.Bounds().Dy() != 9 {
		t.Errorf("bounds: got %v, want 12x9", res.Raster.Bounds())
	}
}

func TestNormalize_TIFFFallsBackToTagDecoder(t *testing.T) {
	pix := grayPixels(12)
	data := buildTIFF([]tiffField{
		short(tagImageWidth, 4),
		short(tagBitsPerSample, 8),
		long(tagStripByteCounts, uint32(len(pix))),
	}, nil, pix)

	res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource(data, "", "odd.tif"), Request{Width: 50, Height: 50})
	if res.Placeholder {
		t.Fatalf("unexpected placeholder: %v", res.Err)
	}
	if res.Decoder != DecoderTIFFTags {
		t.Errorf("decoder: got %s, want %s", res.Decoder, DecoderTIFFTags)
	}
	if len(res.Recovered) != 1 {
		t.Errorf("recovered errors: got %d, want 1", len(res.Recovered))
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Errorf("bounds: got %v, want 4x3", res.Raster.Bounds())
	}
}

func TestNormalize_CorruptTIFFIsPlaceholder(t *testing.T) {
	data := append([]byte("II*\x00\xff\xff\xff\x00"), bytes.Repeat([]byte{0xAB}, 64)...)

	tests := []struct {
		name         string
		fileName     string
		req          Request
		wantW, wantH int
		wantDecoder  string
	}{
		{"requested size", "broken.tif", Request{Width: 300, Height: 200, Fit: FitCover}, 300, 200, DecoderPlaceholder},
		{"hint within box", "broken_1200x800.tif", Request{Width: 200, Height: 200}, 200, 133, DecoderHint},
		{"hint without box", "broken_120x80.tif", Request{}, 120, 80, DecoderHint},
		{"hint ignored for cover", "broken_1200x800.tif", Request{Width: 100, Height: 100, Fit: FitCover}, 100, 100, DecoderHint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource(data, "image/tiff", tt.fileName), tt.req)
			if !res.Placeholder {
				t.Fatal("expected a placeholder")
			}
			if res.Detail() == "" || !failure.IsDecode(res.Err) {
				t.Errorf("expected a decode failure detail, got %v", res.Err)
			}
			if res.Decoder != tt.wantDecoder {
				t.Errorf("decoder: got %s, want %s", res.Decoder, tt.wantDecoder)
			}
			if b := res.Raster.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("bounds: got %v, want %dx%d", b, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNormalize_MislabeledPNGDecodes(t *testing.T) {
	data := encodePNG(t, solid(30, 20, color.NRGBA{0, 0, 255, 255}))
	res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource(data, "image/tiff", "photo.tif"), Request{Width: 100, Height: 100})
	if res.Placeholder {
		t.Fatalf("mislabeled png fell back to a placeholder: %v", res.Err)
	}
	if res.Kind != KindRaster || res.Decoder != DecoderRaster {
		t.Errorf("got kind %v decoder %s, want raster", res.Kind, res.Decoder)
	}
	if res.Raster.Bounds().Dx() != 30 || res.Raster.Bounds().Dy() != 20 {
		t.Errorf("bounds: got %v, want 30x20", res.Raster.Bounds())
	}
}

func TestNormalize_UnsupportedLegacy(t *testing.T) {
	src := pimg.NewSource([]byte("\x00\x00\x01\x00garbage-icon"), "image/x-icon", "favicon.ico")
	res := newTestNormalizer().Normalize(context.Background(), src, Request{Width: 64, Height: 64})
	if !res.Placeholder || !failure.IsUnsupportedFormat(res.Err) {
		t.Fatalf("expected unsupported-format placeholder, got placeholder=%v err=%v", res.Placeholder, res.Err)
	}
	if res.Kind != KindLegacy {
		t.Errorf("kind: got %v, want legacy", res.Kind)
	}
}

func TestNormalize_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := pimg.NewSource(encodePNG(t, solid(4, 4, color.White)), "image/png", "a.png")
	res := newTestNormalizer().Normalize(ctx, src, Request{Width: 10, Height: 10})
	if !res.Placeholder {
		t.Fatal("expected a placeholder for a canceled request")
	}
}

const testSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="200" height="100">
  <rect x="0" y="0" width="200" height="100" fill="#ff0000"/>
</svg>`

func TestNormalize_SVG(t *testing.T) {
	tests := []struct {
		name         string
		req          Request
		wantW, wantH int
	}{
		{"contain", Request{Width: 100, Height: 100, Fit: FitContain}, 100, 50},
		{"cover", Request{Width: 100, Height: 100, Fit: FitCover}, 200, 100},
		{"exact", Request{Width: 100, Height: 100, Fit: FitExact}, 100, 100},
		{"width only", Request{Width: 50}, 50, 25},
		{"intrinsic", Request{}, 200, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource([]byte(testSVG), "image/svg+xml", "logo.svg"), tt.req)
			if res.Placeholder {
				t.Fatalf("unexpected placeholder: %v", res.Err)
			}
			b := res.Raster.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Fatalf("bounds: got %v, want %dx%d", b, tt.wantW, tt.wantH)
			}
			c := res.Raster.NRGBAAt(b.Dx()/2, b.Dy()/2)
			if c.R < 200 || c.G > 50 || c.A < 200 {
				t.Errorf("center pixel: got %v, want opaque red", c)
			}
		})
	}
}

func TestNormalize_SVGViewBoxOnly(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 40 80"><circle cx="20" cy="40" r="20" fill="blue"/></svg>`
	res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource([]byte(svg), "", "tall.svg"), Request{Width: 100, Height: 100})
	if res.Placeholder {
		t.Fatalf("unexpected placeholder: %v", res.Err)
	}
	if b := res.Raster.Bounds(); b.Dx() != 50 || b.Dy() != 100 {
		t.Errorf("bounds: got %v, want 50x100", b)
	}
}

func TestNormalize_InvalidSVGIsPlaceholder(t *testing.T) {
	res := newTestNormalizer().Normalize(context.Background(), pimg.NewSource([]byte("<html><body/></html>"), "image/svg+xml", "nope.svg"), Request{Width: 80, Height: 60})
	if !res.Placeholder {
		t.Fatal("expected a placeholder")
	}
	if b := res.Raster.Bounds(); b.Dx() != 80 || b.Dy() != 60 {
		t.Errorf("bounds: got %v, want 80x60", b)
	}
}

func TestResizeSVG_RewritesRoot(t *testing.T) {
	root, err := parseSVGRoot([]byte(testSVG))
	if err != nil {
		t.Fatalf("parseSVGRoot: %v", err)
	}
	out := string(resizeSVG([]byte(testSVG), root, 40, 20))

	for _, want := range []string{`width="40"`, `height="20"`, `viewBox="0 0 200 100"`, `xmlns:xlink=`, `<rect x="0"`} {
		if !strings.Contains(out, want) {
			t.Errorf("rewritten svg missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `width="200" height="100">`) {
		t.Error("original root size should be replaced")
	}
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"100", 100},
		{"100px", 100},
		{"6pc", 96},
		{"1in", 96},
		{"50%", 0},
		{"", 0},
		{"-4", 0},
	}
	for _, tt := range tests {
		if got := parseLength(tt.in); got != tt.want {
			t.Errorf("parseLength(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPlaceholder(t *testing.T) {
	img := Placeholder(320, 200, strings.Repeat("n", 80), strings.Repeat("e", 200))
	if img.Bounds() != image.Rect(0, 0, 320, 200) {
		t.Fatalf("bounds: got %v", img.Bounds())
	}
	p := pimg.PaletteFor(strings.Repeat("n", 80))
	if img.NRGBAAt(0, 0) != p.Border.(color.NRGBA) {
		t.Error("corner should carry the border color")
	}

	distinct := map[color.NRGBA]bool{}
	for y := 0; y < 200; y++ {
		for x := 0; x < 320; x++ {
			distinct[img.NRGBAAt(x, y)] = true
		}
	}
	if len(distinct) < 3 {
		t.Errorf("placeholder should contain label text, found %d colors", len(distinct))
	}

	tiny := Placeholder(8, 8, "x", "y")
	if tiny.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Errorf("tiny placeholder bounds: got %v", tiny.Bounds())
	}
}
