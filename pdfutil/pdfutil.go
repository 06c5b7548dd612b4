// Package pdfutil wraps the PDF operations the orchestrators need: counting
// pages, concatenating documents, and dropping the trailing page. It also
// knows how to wrap scanner-delivered JPEG images into PDF pages, which the
// crop pipeline and the tests use to fabricate documents.
package pdfutil

import (
	"bytes"
	"fmt"
	"image/color"
	"image/jpeg"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/one-zero-eight/printers/apperr"
)

// conf is shared pdfcpu configuration. Scanners emit slightly sloppy PDFs,
// so validation is relaxed.
func conf() *model.Configuration {
	c := model.NewDefaultConfiguration()
	c.ValidationMode = model.ValidationRelaxed
	return c
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count of %s: %w: %v", path, apperr.ErrIO, err)
	}
	return n, nil
}

// Merge concatenates the input PDFs, page order preserved, into outPath.
func Merge(inPaths []string, outPath string) error {
	if err := api.MergeCreateFile(inPaths, outPath, false, conf()); err != nil {
		return fmt.Errorf("merge pdf: %w: %v", apperr.ErrIO, err)
	}
	return nil
}

// RemoveLastPage writes inPath minus its final page to outPath. Removing the
// only page yields a valid zero-page document rather than an error, so undo
// can run all the way down.
func RemoveLastPage(inPath, outPath string) error {
	n, err := PageCount(inPath)
	if err != nil {
		return err
	}
	if n <= 1 {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrIO, err)
		}
		defer f.Close()
		return WriteEmpty(f)
	}
	sel := []string{fmt.Sprintf("%d", n)}
	if err := api.RemovePagesFile(inPath, outPath, sel, conf()); err != nil {
		return fmt.Errorf("remove last page: %w: %v", apperr.ErrIO, err)
	}
	return nil
}

// pdfWriter accumulates a PDF body and remembers object offsets for the
// cross-reference table.
type pdfWriter struct {
	buf     bytes.Buffer
	offsets []int64
}

func (w *pdfWriter) startObj() {
	w.offsets = append(w.offsets, int64(w.buf.Len()))
}

func (w *pdfWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(&w.buf, format, args...)
}

// WriteEmpty writes a structurally valid PDF with an empty page tree.
func WriteEmpty(out io.Writer) error {
	var w pdfWriter
	w.printf("%%PDF-1.4\n")
	w.startObj()
	w.printf("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	w.startObj()
	w.printf("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	return w.finish(out)
}

// JPEGsToPDF assembles the given JPEG images into a PDF, one page per image,
// in order. Page media boxes match the pixel dimensions (one pixel per
// point).
func JPEGsToPDF(images [][]byte, out io.Writer) error {
	if len(images) == 0 {
		return WriteEmpty(out)
	}

	var w pdfWriter
	w.printf("%%PDF-1.4\n")
	w.startObj()
	w.printf("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	// Object layout: catalog 1, pages 2, then per image a triple of
	// (page, contents, image xobject) starting at object 3.
	n := len(images)
	w.startObj()
	w.printf("2 0 obj\n<< /Type /Pages /Kids [")
	for i := 0; i < n; i++ {
		w.printf("%d 0 R ", 3+i*3)
	}
	w.printf("] /Count %d >>\nendobj\n", n)

	for i, img := range images {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(img))
		if err != nil {
			return fmt.Errorf("decode jpeg %d: %w: %v", i, apperr.ErrInvalidArgument, err)
		}
		pageObj := 3 + i*3
		contObj := pageObj + 1
		imgObj := pageObj + 2

		w.startObj()
		w.printf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
			"/Resources << /XObject << /Im%d %d 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			pageObj, cfg.Width, cfg.Height, i, imgObj, contObj)

		content := fmt.Sprintf("q\n%d 0 0 %d 0 0 cm\n/Im%d Do\nQ\n", cfg.Width, cfg.Height, i)
		w.startObj()
		w.printf("%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			contObj, len(content), content)

		colorSpace := "/DeviceRGB"
		if cfg.ColorModel == color.GrayModel {
			colorSpace = "/DeviceGray"
		}
		w.startObj()
		w.printf("%d 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d "+
			"/ColorSpace %s /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n",
			imgObj, cfg.Width, cfg.Height, colorSpace, len(img))
		w.buf.Write(img)
		w.printf("\nendstream\nendobj\n")
	}

	return w.finish(out)
}

func (w *pdfWriter) finish(out io.Writer) error {
	xrefOffset := int64(w.buf.Len())
	count := len(w.offsets) + 1
	w.printf("xref\n0 %d\n", count)
	w.printf("0000000000 65535 f \n")
	for _, off := range w.offsets {
		w.printf("%010d 00000 n \n", off)
	}
	w.printf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", count, xrefOffset)
	_, err := out.Write(w.buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	return nil
}
