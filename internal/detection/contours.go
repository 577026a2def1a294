package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/effect"
)

const (
	edgeThreshold   = 30.0
	minContourSize  = 10
	minSubjectShare = 0.01 // of the frame area
	maxSubjects     = 10
)

// Contours reports closed edge outlines as "object" subjects.
//
// # Algorithm
//
//  1. Edge map: grayscale luminance, a pixel is an edge when it differs from
//     its right or lower neighbour by more than 30
//  2. Contours: 8-connected flood fill over edge pixels
//  3. Subject boxes: bounding box of each contour; small boxes are dropped
//  4. Confidence: closure, 1 − |contour length − box perimeter| / perimeter,
//     so a clean outline around a solid shape scores close to 1
//  5. Overlapping boxes are merged, keeping the higher confidence
type Contours struct{}

func (Contours) Name() string { return "contours" }

func (Contours) Detect(ctx context.Context, img *image.NRGBA) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return nil, nil
	}

	edges := edgeMap(img)
	contours := findContours(edges, width, height)
	minArea := int(math.Ceil(float64(width*height) * minSubjectShare))

	preds := make([]Prediction, 0)
	for _, contour := range contours {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := contourBounds(contour)
		if r.Dx()*r.Dy() < minArea {
			continue
		}
		perimeter := 2 * (r.Dx() + r.Dy())
		closure := 1.0 - math.Abs(float64(len(contour)-perimeter))/float64(perimeter)
		preds = append(preds, Prediction{
			Box:        BoxFromRect(r.Add(bounds.Min)),
			Class:      "object",
			Confidence: math.Round(math.Max(0, math.Min(1, closure))*1000) / 1000,
		})
	}

	preds = mergeOverlapping(preds)
	sort.Slice(preds, func(i, j int) bool { return preds[i].Box.Area() > preds[j].Box.Area() })
	if len(preds) > maxSubjects {
		preds = preds[:maxSubjects]
	}
	return preds, nil
}

// edgeMap marks interior pixels whose luminance differs from the right or
// lower neighbour by more than edgeThreshold. Border pixels are never edges.
func edgeMap(img image.Image) [][]bool {
	gray := effect.Grayscale(img)
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()
	lum := func(x, y int) float64 { return float64(gray.Pix[gray.PixOffset(b.Min.X+x, b.Min.Y+y)]) }

	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		if y == 0 || y == height-1 {
			continue
		}
		for x := 1; x < width-1; x++ {
			c := lum(x, y)
			if math.Abs(c-lum(x+1, y)) > edgeThreshold || math.Abs(c-lum(x, y+1)) > edgeThreshold {
				edges[y][x] = true
			}
		}
	}
	return edges
}

// findContours groups edge pixels into 8-connected components, discarding
// components smaller than minContourSize.
func findContours(edges [][]bool, width, height int) [][]image.Point {
	visited := make([][]bool, height)
	for y := range visited {
		visited[y] = make([]bool, width)
	}

	contours := make([][]image.Point, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if edges[y][x] && !visited[y][x] {
				contour := floodFill(edges, visited, x, y, width, height)
				if len(contour) >= minContourSize {
					contours = append(contours, contour)
				}
			}
		}
	}
	return contours
}

// floodFill is iterative so large outlines cannot overflow the stack.
func floodFill(edges, visited [][]bool, startX, startY, width, height int) []image.Point {
	var contour []image.Point
	stack := []image.Point{{X: startX, Y: startY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !edges[p.Y][p.X] {
			continue
		}
		visited[p.Y][p.X] = true
		contour = append(contour, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, image.Point{X: p.X + dx, Y: p.Y + dy})
				}
			}
		}
	}
	return contour
}

// contourBounds returns the half-open bounding rectangle of the points.
func contourBounds(contour []image.Point) image.Rectangle {
	r := image.Rectangle{Min: contour[0], Max: contour[0].Add(image.Pt(1, 1))}
	for _, p := range contour[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

// mergeOverlapping folds overlapping boxes into their union until no two
// boxes overlap.
func mergeOverlapping(preds []Prediction) []Prediction {
	merged := make([]Prediction, 0, len(preds))
	for _, p := range preds {
		cur := p
		for {
			hit := -1
			for i := range merged {
				if merged[i].Box.Rect().Overlaps(cur.Box.Rect()) {
					hit = i
					break
				}
			}
			if hit < 0 {
				break
			}
			other := merged[hit]
			merged = append(merged[:hit], merged[hit+1:]...)
			cur.Box = BoxFromRect(cur.Box.Rect().Union(other.Box.Rect()))
			cur.Confidence = math.Max(cur.Confidence, other.Confidence)
		}
		merged = append(merged, cur)
	}
	return merged
}
