package normalize

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// Fit controls how a vector source is mapped onto the requested box.
type Fit int

const (
	// FitContain scales to fit inside the box, aspect preserved.
	FitContain Fit = iota
	// FitCover scales to cover the box on both axes, aspect preserved.
	FitCover
	// FitExact stretches to the box. Honored only when both dimensions are
	// given.
	FitExact
)

// Default intrinsic size for an SVG with neither width/height nor viewBox,
// as browsers use for replaced elements.
const (
	defaultSVGWidth  = 300
	defaultSVGHeight = 150
)

// svgRoot is what the normalizer learns from the root <svg> element.
type svgRoot struct {
	attrs    []xml.Attr
	width    float64
	height   float64
	viewBox  [4]float64
	hasView  bool
	start    int64
	end      int64
	selfEnds bool
}

// size returns the intrinsic width and height, preferring explicit sizes
// and falling back to the viewBox.
func (s svgRoot) size() (float64, float64) {
	w, h := s.width, s.height
	switch {
	case w > 0 && h > 0:
		return w, h
	case s.hasView && s.viewBox[2] > 0 && s.viewBox[3] > 0:
		vw, vh := s.viewBox[2], s.viewBox[3]
		if w > 0 {
			return w, w * vh / vw
		}
		if h > 0 {
			return h * vw / vh, h
		}
		return vw, vh
	case w > 0:
		return w, w * defaultSVGHeight / defaultSVGWidth
	case h > 0:
		return h * defaultSVGWidth / defaultSVGHeight, h
	default:
		return defaultSVGWidth, defaultSVGHeight
	}
}

func parseSVGRoot(data []byte) (svgRoot, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		start := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			return svgRoot{}, fmt.Errorf("no <svg> root element")
		}
		if err != nil {
			return svgRoot{}, fmt.Errorf("parse svg: %w", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(el.Name.Local, "svg") {
			return svgRoot{}, fmt.Errorf("root element is <%s>, not <svg>", el.Name.Local)
		}
		end := dec.InputOffset()
		root := svgRoot{
			attrs:    el.Attr,
			start:    start,
			end:      end,
			selfEnds: end >= 2 && string(data[end-2:end]) == "/>",
		}
		for _, a := range el.Attr {
			if a.Name.Space != "" {
				continue
			}
			switch a.Name.Local {
			case "width":
				root.width = parseLength(a.Value)
			case "height":
				root.height = parseLength(a.Value)
			case "viewBox":
				root.viewBox, root.hasView = parseViewBox(a.Value)
			}
		}
		return root, nil
	}
}

var lengthUnits = []struct {
	suffix string
	px     float64
}{
	{"px", 1},
	{"pt", 4.0 / 3.0},
	{"pc", 16},
	{"in", 96},
	{"cm", 96 / 2.54},
	{"mm", 96 / 25.4},
}

// parseLength converts an SVG length to pixels. Percentages and unknown
// units yield 0 (unspecified).
func parseLength(v string) float64 {
	v = strings.TrimSpace(v)
	mul := 1.0
	for _, u := range lengthUnits {
		if strings.HasSuffix(v, u.suffix) {
			v, mul = strings.TrimSpace(strings.TrimSuffix(v, u.suffix)), u.px
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return f * mul
}

func parseViewBox(v string) ([4]float64, bool) {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' || r == '\n' })
	var out [4]float64
	if len(fields) != 4 {
		return out, false
	}
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, out[2] > 0 && out[3] > 0
}

// resizeSVG returns a copy of data whose root element declares w×h and a
// viewBox covering the original drawing.
func resizeSVG(data []byte, root svgRoot, w, h int) []byte {
	iw, ih := root.size()
	view := root.viewBox
	if !root.hasView {
		view = [4]float64{0, 0, iw, ih}
	}

	var tag strings.Builder
	tag.WriteString("<svg")
	for _, a := range root.attrs {
		if a.Name.Space == "" && (a.Name.Local == "width" || a.Name.Local == "height" || a.Name.Local == "viewBox") {
			continue
		}
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + name
		}
		fmt.Fprintf(&tag, " %s=\"%s\"", name, escapeAttr(a.Value))
	}
	fmt.Fprintf(&tag, " width=\"%d\" height=\"%d\" viewBox=\"%s %s %s %s\"", w, h,
		fmtFloat(view[0]), fmtFloat(view[1]), fmtFloat(view[2]), fmtFloat(view[3]))
	if root.selfEnds {
		tag.WriteString("/>")
	} else {
		tag.WriteString(">")
	}

	out := make([]byte, 0, len(data)+64)
	out = append(out, data[:root.start]...)
	out = append(out, tag.String()...)
	out = append(out, data[root.end:]...)
	return out
}

func escapeAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// svgTargetSize maps the intrinsic size onto the requested box.
func svgTargetSize(iw, ih float64, req Request) (int, int) {
	w := max(int(iw+0.5), 1)
	h := max(int(ih+0.5), 1)
	switch {
	case req.Width <= 0 && req.Height <= 0:
		return w, h
	case req.Width <= 0:
		return max(int(float64(req.Height)*iw/ih+0.5), 1), req.Height
	case req.Height <= 0:
		return req.Width, max(int(float64(req.Width)*ih/iw+0.5), 1)
	}
	switch req.Fit {
	case FitExact:
		return req.Width, req.Height
	case FitCover:
		return imaging.CoverSize(w, h, req.Width, req.Height)
	default:
		return imaging.ContainSize(w, h, req.Width, req.Height)
	}
}

// rasterizeSVG parses the root element, rewrites it to the target size and
// renders the document with oksvg.
func rasterizeSVG(data []byte, req Request, maxTexture int, maxPixels int64) (*image.NRGBA, error) {
	root, err := parseSVGRoot(data)
	if err != nil {
		return nil, err
	}
	iw, ih := root.size()
	w, h := svgTargetSize(iw, ih, req)
	w, h = fitCeilings(w, h, maxTexture, maxPixels)

	icon, err := oksvg.ReadIconStream(bytes.NewReader(resizeSVG(data, root, w, h)), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	return imaging.ToNRGBA(rgba), nil
}
