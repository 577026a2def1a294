package normalize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"regexp"
	"strconv"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff"
	"golang.org/x/image/tiff/lzw"
)

// TIFF tags read by the multi-tag decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagExifIFD         = 34665
	tagPixelXDimension = 40962
	tagPixelYDimension = 40963
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946
)

const (
	photoWhiteIsZero = 0
	photoBlackIsZero = 1
	photoRGB         = 2
)

// decodeTIFFNative decodes with the stock x/image/tiff decoder. Multi-page
// files yield their first page. Headers declaring more than maxPixels are
// rejected before the decoder allocates.
func decodeTIFFNative(data []byte, maxPixels int64) (image.Image, error) {
	cfg, err := tiff.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("native tiff decode: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("native tiff decode: %dx%d exceeds pixel budget", cfg.Width, cfg.Height)
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("native tiff decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("native tiff decode: empty raster %v", img.Bounds())
	}
	return img, nil
}

type ifdEntry struct {
	typ   uint16
	count uint32
	value [4]byte
}

type ifd map[uint16]ifdEntry

type tiffReader struct {
	data []byte
	bo   binary.ByteOrder
}

func newTIFFReader(data []byte) (*tiffReader, uint32, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("tiff header truncated")
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("bad tiff byte order %q", data[:2])
	}
	if bo.Uint16(data[2:4]) != 42 {
		return nil, 0, fmt.Errorf("bad tiff magic")
	}
	return &tiffReader{data: data, bo: bo}, bo.Uint32(data[4:8]), nil
}

func (r *tiffReader) readIFD(off uint32) (ifd, error) {
	if uint64(off)+2 > uint64(len(r.data)) {
		return nil, fmt.Errorf("ifd offset %d out of range", off)
	}
	n := int(r.bo.Uint16(r.data[off:]))
	start := int(off) + 2
	if start+n*12 > len(r.data) {
		return nil, fmt.Errorf("ifd at %d truncated", off)
	}
	entries := make(ifd, n)
	for i := 0; i < n; i++ {
		p := r.data[start+i*12:]
		var e ifdEntry
		e.typ = r.bo.Uint16(p[2:4])
		e.count = r.bo.Uint32(p[4:8])
		copy(e.value[:], p[8:12])
		entries[r.bo.Uint16(p[0:2])] = e
	}
	return entries, nil
}

// values returns the integer values of a BYTE, SHORT or LONG entry.
func (r *tiffReader) values(e ifdEntry) ([]uint32, error) {
	var size int
	switch e.typ {
	case 1, 7:
		size = 1
	case 3:
		size = 2
	case 4:
		size = 4
	default:
		return nil, fmt.Errorf("unsupported tiff field type %d", e.typ)
	}
	total := int(e.count) * size
	var raw []byte
	if total <= 4 {
		raw = e.value[:total]
	} else {
		off := r.bo.Uint32(e.value[:])
		if uint64(off)+uint64(total) > uint64(len(r.data)) {
			return nil, fmt.Errorf("tiff field data out of range")
		}
		raw = r.data[off : int(off)+total]
	}
	out := make([]uint32, e.count)
	for i := range out {
		switch size {
		case 1:
			out[i] = uint32(raw[i])
		case 2:
			out[i] = uint32(r.bo.Uint16(raw[i*2:]))
		case 4:
			out[i] = r.bo.Uint32(raw[i*4:])
		}
	}
	return out, nil
}

func (r *tiffReader) first(d ifd, tag uint16, def uint32) uint32 {
	e, ok := d[tag]
	if !ok {
		return def
	}
	v, err := r.values(e)
	if err != nil || len(v) == 0 {
		return def
	}
	return v[0]
}

// dimension reads tag from IFD0, falling back to the EXIF tag in IFD0 or in
// the EXIF sub-IFD.
func (r *tiffReader) dimension(d, exif ifd, tag, exifTag uint16) uint32 {
	if v := r.first(d, tag, 0); v > 0 {
		return v
	}
	if v := r.first(d, exifTag, 0); v > 0 {
		return v
	}
	if exif != nil {
		return r.first(exif, exifTag, 0)
	}
	return 0
}

// decodeTIFFTags is the fallback TIFF decoder for files the stock decoder
// rejects: missing width/height tags, short strips and odd compression
// tags. Width and height come from the baseline tags, then the EXIF pixel
// dimension tags; a missing height is derived from the decompressed strip
// length. Pixel data shorter than the image is zero-padded.
func decodeTIFFTags(data []byte, maxPixels int64) (*image.NRGBA, error) {
	r, off, err := newTIFFReader(data)
	if err != nil {
		return nil, err
	}
	d, err := r.readIFD(off)
	if err != nil {
		return nil, err
	}
	var exif ifd
	if exifOff := r.first(d, tagExifIFD, 0); exifOff > 0 {
		exif, _ = r.readIFD(exifOff)
	}

	width := int(r.dimension(d, exif, tagImageWidth, tagPixelXDimension))
	height := int(r.dimension(d, exif, tagImageLength, tagPixelYDimension))
	if width <= 0 {
		return nil, fmt.Errorf("tiff width unknown")
	}

	spp := int(r.first(d, tagSamplesPerPixel, 1))
	bits := int(r.first(d, tagBitsPerSample, 8))
	photometric := r.first(d, tagPhotometric, photoBlackIsZero)
	compression := r.first(d, tagCompression, compressionNone)
	predictor := r.first(d, tagPredictor, 1)

	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("unsupported bits per sample %d", bits)
	}
	if spp < 1 || spp > 4 {
		return nil, fmt.Errorf("unsupported samples per pixel %d", spp)
	}
	if r.first(d, tagPlanarConfig, 1) != 1 {
		return nil, fmt.Errorf("planar tiff layout not supported")
	}
	if photometric != photoWhiteIsZero && photometric != photoBlackIsZero && photometric != photoRGB {
		return nil, fmt.Errorf("unsupported photometric interpretation %d", photometric)
	}

	offsets, err := entryValues(r, d, tagStripOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := entryValues(r, d, tagStripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("tiff strip tables inconsistent (%d offsets, %d counts)", len(offsets), len(counts))
	}

	bpp := spp * bits / 8
	rowBytes := width * bpp
	rowsPerStrip := int(r.first(d, tagRowsPerStrip, 0))

	if maxPixels > 0 && int64(width)*int64(max(height, 1)) > maxPixels {
		return nil, fmt.Errorf("tiff %dx%d exceeds pixel budget", width, max(height, 1))
	}

	// capBytes bounds the decompressed pixel data. With a known height the
	// excess is dropped; without one, running past the budget is an error.
	capBytes := int64(-1)
	switch {
	case height > 0:
		capBytes = int64(rowBytes) * int64(height)
	case maxPixels > 0:
		capBytes = maxPixels * int64(bpp)
	}

	var pix bytes.Buffer
	for i, o := range offsets {
		start := int(o)
		end := start + int(counts[i])
		if start >= len(data) {
			break
		}
		if end > len(data) {
			end = len(data)
		}
		limit := int64(-1)
		if capBytes >= 0 {
			limit = capBytes - int64(pix.Len())
		}
		strip, over, err := decompressStrip(data[start:end], compression, rowsPerStrip*rowBytes, limit)
		if err != nil {
			return nil, err
		}
		pix.Write(strip)
		if over {
			if height <= 0 {
				return nil, fmt.Errorf("tiff %dx? pixel data exceeds pixel budget", width)
			}
			break
		}
	}

	if height <= 0 {
		height = pix.Len() / rowBytes
		if height <= 0 {
			return nil, fmt.Errorf("tiff height unknown and no pixel rows present")
		}
	}

	buf := pix.Bytes()
	if need := rowBytes * height; len(buf) < need {
		buf = append(buf, make([]byte, need-len(buf))...)
	}
	if predictor == 2 && bits == 8 {
		undoHorizontalDifferencing(buf, width, height, spp)
	}

	return expandSamples(buf, width, height, spp, bits, photometric, r.bo), nil
}

func entryValues(r *tiffReader, d ifd, tag uint16) ([]uint32, error) {
	e, ok := d[tag]
	if !ok {
		return nil, fmt.Errorf("tiff tag %d missing", tag)
	}
	return r.values(e)
}

// decompressStrip expands one strip. A non-negative limit caps the output;
// over reports that the strip held more than limit bytes.
func decompressStrip(b []byte, compression uint32, expected int, limit int64) (out []byte, over bool, err error) {
	switch compression {
	case compressionNone:
		return capped(b, limit)
	case compressionPackBits:
		return unpackBitsLimit(b, limit)
	case compressionLZW:
		out, over, err := readCapped(lzw.NewReader(bytes.NewReader(b), lzw.MSB, 8), limit)
		if err != nil && len(out) < expected {
			// Some old writers emit LSB-ordered codes.
			if alt, altOver, altErr := readCapped(lzw.NewReader(bytes.NewReader(b), lzw.LSB, 8), limit); altErr == nil || len(alt) > len(out) {
				return alt, altOver, nil
			}
		}
		return out, over, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, false, fmt.Errorf("deflate strip: %w", err)
		}
		defer zr.Close()
		out, over, err := readCapped(zr, limit)
		if err != nil && len(out) == 0 {
			return nil, false, fmt.Errorf("deflate strip: %w", err)
		}
		return out, over, nil
	default:
		return nil, false, fmt.Errorf("unsupported tiff compression %d", compression)
	}
}

// readCapped reads r to EOF, or to limit bytes when limit is non-negative.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit < 0 {
		out, err := io.ReadAll(r)
		return out, false, err
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if int64(len(out)) > limit {
		return out[:limit], true, nil
	}
	return out, false, err
}

func capped(b []byte, limit int64) ([]byte, bool, error) {
	if limit >= 0 && int64(len(b)) > limit {
		return b[:limit], true, nil
	}
	return b, false, nil
}

// unpackBits decodes Apple PackBits run-length data. Truncated input yields
// what could be decoded.
func unpackBits(b []byte) []byte {
	out, _, _ := unpackBitsLimit(b, -1)
	return out
}

func unpackBitsLimit(b []byte, limit int64) ([]byte, bool, error) {
	out := make([]byte, 0, len(b)*2)
	for i := 0; i < len(b); {
		n := int(int8(b[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(b))
			out = append(out, b[i:end]...)
			i = end
		case n != -128:
			if i >= len(b) {
				return out, false, nil
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, b[i])
			}
			i++
		}
		if limit >= 0 && int64(len(out)) >= limit {
			return out[:limit], int64(len(out)) > limit || i < len(b), nil
		}
	}
	return out, false, nil
}

func undoHorizontalDifferencing(buf []byte, width, height, spp int) {
	rowBytes := width * spp
	for y := 0; y < height; y++ {
		row := buf[y*rowBytes : (y+1)*rowBytes]
		for x := spp; x < len(row); x++ {
			row[x] += row[x-spp]
		}
	}
}

func expandSamples(buf []byte, width, height, spp, bits int, photometric uint32, bo binary.ByteOrder) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	bps := bits / 8
	sample := func(off int) uint8 {
		if bps == 1 {
			return buf[off]
		}
		return uint8(bo.Uint16(buf[off:]) >> 8)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := (y*width + x) * spp * bps
			dst := img.PixOffset(x, y)
			var r, g, b, a uint8 = 0, 0, 0, 255
			switch {
			case photometric == photoRGB && spp >= 3:
				r, g, b = sample(src), sample(src+bps), sample(src+2*bps)
				if spp == 4 {
					a = sample(src + 3*bps)
				}
			default:
				v := sample(src)
				if photometric == photoWhiteIsZero {
					v = 255 - v
				}
				r, g, b = v, v, v
				if spp == 2 {
					a = sample(src + bps)
				}
			}
			img.Pix[dst+0] = r
			img.Pix[dst+1] = g
			img.Pix[dst+2] = b
			img.Pix[dst+3] = a
		}
	}
	return img
}

var sizeHint = regexp.MustCompile(`(\d{2,5})\s*[x×X]\s*(\d{2,5})`)

// sizeHintFromName extracts a WxH hint such as "scan_1200x800.tif".
func sizeHintFromName(name string) (int, int, bool) {
	m := sizeHint.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
