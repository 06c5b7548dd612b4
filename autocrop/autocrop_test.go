package autocrop

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// documentImage draws a dark rectangle on a white background, simulating a
// page on the scanner glass.
func documentImage(w, h int, doc image.Rectangle) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(doc) {
				img.Set(x, y, color.RGBA{60, 60, 60, 255})
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestDetectFindsDocument(t *testing.T) {
	doc := image.Rect(100, 80, 300, 340)
	img := documentImage(400, 400, doc)

	quad, ok := Detect(img)
	if !ok {
		t.Fatal("document not detected")
	}
	// Grid sampling gives a small tolerance.
	const tol = 4.0
	if quad[0].X < float64(doc.Min.X)-tol || quad[0].X > float64(doc.Min.X)+tol {
		t.Fatalf("left edge at %v, want about %d", quad[0].X, doc.Min.X)
	}
	if quad[2].X < float64(doc.Max.X)-tol-1 || quad[2].X > float64(doc.Max.X)+tol {
		t.Fatalf("right edge at %v, want about %d", quad[2].X, doc.Max.X)
	}
	if quad[0].Y < float64(doc.Min.Y)-tol || quad[0].Y > float64(doc.Min.Y)+tol {
		t.Fatalf("top edge at %v, want about %d", quad[0].Y, doc.Min.Y)
	}
}

func TestDetectRejectsBlankPage(t *testing.T) {
	img := documentImage(400, 400, image.Rect(0, 0, 0, 0))
	if _, ok := Detect(img); ok {
		t.Fatal("blank page must not detect a document")
	}
}

func TestDetectRejectsSpeck(t *testing.T) {
	// A tiny fleck of dust covers far below the coverage floor.
	img := documentImage(400, 400, image.Rect(200, 200, 203, 203))
	if _, ok := Detect(img); ok {
		t.Fatal("speck must not count as a document")
	}
}

func TestCropJPEGShrinksToDocument(t *testing.T) {
	doc := image.Rect(100, 80, 300, 340)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, documentImage(400, 400, doc), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := CropJPEG(buf.Bytes())
	if err != nil {
		t.Fatalf("CropJPEG: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode cropped: %v", err)
	}
	if cfg.Width >= 400 || cfg.Height >= 400 {
		t.Fatalf("crop did not shrink: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width < doc.Dx()-10 || cfg.Height < doc.Dy()-10 {
		t.Fatalf("crop cut into the document: %dx%d, want about %dx%d",
			cfg.Width, cfg.Height, doc.Dx(), doc.Dy())
	}
}

func TestCropJPEGPassThrough(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, documentImage(400, 400, image.Rect(0, 0, 0, 0)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := CropJPEG(buf.Bytes())
	if err != nil {
		t.Fatalf("CropJPEG: %v", err)
	}
	if !bytes.Equal(out, buf.Bytes()) {
		t.Fatal("no detection must pass the input through verbatim")
	}
}

func TestCropJPEGRejectsGarbage(t *testing.T) {
	if _, err := CropJPEG([]byte("not a jpeg")); err == nil {
		t.Fatal("garbage must fail to decode")
	}
}

func TestQuadAngle(t *testing.T) {
	flat := Quad{{0, 10}, {100, 10}, {100, 200}, {0, 200}}
	if a := flat.Angle(); a != 0 {
		t.Fatalf("flat top edge angle = %v, want 0", a)
	}
	tilted := Quad{{0, 0}, {100, 10}, {100, 200}, {0, 200}}
	if a := tilted.Angle(); a <= 0 {
		t.Fatalf("downward-sloping edge angle = %v, want positive", a)
	}
}
