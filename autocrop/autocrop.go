// Package autocrop straightens and crops scanned document images. The
// pipeline is a pure transformation: detect the document's four corners,
// rotate the image so the top edge is horizontal, then crop to the corner
// bounding box. When no plausible four-corner detection is found the input
// passes through unchanged.
package autocrop

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
)

// luminance threshold separating document content from the scanner
// background. Scanner lids render near-white; anything darker is content.
const contentThreshold = 215

// minimum fraction of the frame the detected document must cover for the
// detection to be trusted.
const minCoverage = 0.02

// Point is an image coordinate.
type Point struct {
	X, Y float64
}

// Quad is the detected document quadrilateral, ordered top-left, top-right,
// bottom-right, bottom-left.
type Quad [4]Point

// CropJPEG runs the crop pipeline on a JPEG image. The returned bytes are a
// re-encoded JPEG; if detection fails the original bytes come back verbatim.
func CropJPEG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	quad, ok := Detect(img)
	if !ok {
		return data, nil
	}
	out := RotateAndCrop(img, quad)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Detect finds the document quadrilateral. The approach is geometric: scan
// for content pixels against the light background, take the extreme content
// positions per edge, and accept the result only when it covers a plausible
// share of the frame.
func Detect(img image.Image) (Quad, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 8 || h < 8 {
		return Quad{}, false
	}

	// Per-column topmost/bottommost and per-row leftmost/rightmost content
	// pixel. Sampled on a grid to keep this cheap on 300 DPI scans.
	step := w / 400
	if step < 1 {
		step = 1
	}

	minX, minY := w, h
	maxX, maxY := -1, -1
	topEdge := make([]Point, 0, w/step)

	for x := 0; x < w; x += step {
		firstY := -1
		lastY := -1
		for y := 0; y < h; y += step {
			if isContent(img, b.Min.X+x, b.Min.Y+y) {
				if firstY < 0 {
					firstY = y
				}
				lastY = y
			}
		}
		if firstY < 0 {
			continue
		}
		topEdge = append(topEdge, Point{X: float64(x), Y: float64(firstY)})
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if firstY < minY {
			minY = firstY
		}
		if lastY > maxY {
			maxY = lastY
		}
	}

	if maxX < 0 || maxY < 0 {
		return Quad{}, false
	}
	coverage := float64(maxX-minX) * float64(maxY-minY) / (float64(w) * float64(h))
	if coverage < minCoverage {
		return Quad{}, false
	}

	return Quad{
		{X: float64(minX), Y: float64(minY)},
		{X: float64(maxX), Y: topEdgeYAt(topEdge, float64(maxX), float64(minY))},
		{X: float64(maxX), Y: float64(maxY)},
		{X: float64(minX), Y: float64(maxY)},
	}, true
}

// topEdgeYAt estimates the top edge height near x, falling back to the
// global minimum.
func topEdgeYAt(edge []Point, x, fallback float64) float64 {
	best := fallback
	bestDist := math.Inf(1)
	for _, p := range edge {
		d := math.Abs(p.X - x)
		if d < bestDist {
			bestDist = d
			best = p.Y
		}
	}
	return best
}

// Angle returns the rotation (radians) of the quad's top edge relative to
// horizontal.
func (q Quad) Angle() float64 {
	dx := q[1].X - q[0].X
	dy := q[1].Y - q[0].Y
	if dx == 0 {
		return 0
	}
	return math.Atan2(dy, dx)
}

// RotateAndCrop straightens the image by the quad's top-edge angle and crops
// to the rotated quad's bounding box. Uncovered pixels fill white.
func RotateAndCrop(img image.Image, q Quad) image.Image {
	angle := q.Angle()
	// Tiny skews are noise; crop without resampling.
	if math.Abs(angle) < 0.004 {
		return cropBounds(img, q)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cx, cy := float64(w)/2, float64(h)/2
	sin, cos := math.Sincos(-angle)

	// Rotate the corner points to find the output bounding box.
	var rot [4]Point
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range q {
		x := cos*(p.X-cx) - sin*(p.Y-cy) + cx
		y := sin*(p.X-cx) + cos*(p.Y-cy) + cy
		rot[i] = Point{X: x, Y: y}
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}

	outW := int(maxX - minX)
	outH := int(maxY - minY)
	if outW < 1 || outH < 1 {
		return cropBounds(img, q)
	}

	out := image.NewRGBA(image.Rect(0, 0, outW, outH))
	// Inverse mapping with nearest-neighbor sampling.
	isin, icos := math.Sincos(angle)
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			x := float64(ox) + minX
			y := float64(oy) + minY
			sx := icos*(x-cx) - isin*(y-cy) + cx
			sy := isin*(x-cx) + icos*(y-cy) + cy
			ix, iy := int(sx), int(sy)
			if ix < 0 || iy < 0 || ix >= w || iy >= h {
				out.Set(ox, oy, color.White)
				continue
			}
			out.Set(ox, oy, img.At(b.Min.X+ix, b.Min.Y+iy))
		}
	}
	return out
}

func cropBounds(img image.Image, q Quad) image.Image {
	b := img.Bounds()
	x0 := clamp(int(q[0].X), 0, b.Dx()-1)
	y0 := clamp(int(math.Min(q[0].Y, q[1].Y)), 0, b.Dy()-1)
	x1 := clamp(int(q[2].X)+1, x0+1, b.Dx())
	y1 := clamp(int(q[2].Y)+1, y0+1, b.Dy())

	out := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.Set(x-x0, y-y0, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isContent(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	// ITU-R 601 luma on 16-bit channels.
	luma := (299*r + 587*g + 114*b) / 1000 >> 8
	return luma < contentThreshold
}
