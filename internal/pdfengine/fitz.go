package pdfengine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// Fitz implements Engine on top of MuPDF (go-fitz) for rendering and text,
// with pdfcpu doing validation and page assembly.
type Fitz struct{}

func NewFitz() *Fitz { return &Fitz{} }

func (e *Fitz) Validate(path string) error {
	if err := api.ValidateFile(path, nil); err != nil {
		return fmt.Errorf("pdf validation failed: %w", err)
	}
	return nil
}

func (e *Fitz) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func (e *Fitz) RenderWidth(path string, page, targetWidth int) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	bound, err := doc.Bound(page)
	if err != nil {
		return nil, fmt.Errorf("failed to measure page %d: %w", page, err)
	}
	pageWidth := bound.Dx()
	if pageWidth <= 0 {
		pageWidth = 612 // US Letter fallback
	}
	// Bound is reported at 72 dpi, so zoom maps directly onto DPI.
	dpi := 72.0 * float64(targetWidth) / float64(pageWidth)

	img, err := doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	return encodePNG(img)
}

func (e *Fitz) RenderDPI(path string, page, dpi int, headerRatio float64) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	if headerRatio > 0 && headerRatio < 1 {
		b := img.Bounds()
		cropH := int(float64(b.Dy()) * headerRatio)
		if cropH < 1 {
			cropH = 1
		}
		cropped := imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+cropH))
		log.Debug().Int("page", page).Int("dpi", dpi).Float64("ratio", headerRatio).Msg("rendered header band")
		return encodePNG(cropped)
	}
	return encodePNG(img)
}

func (e *Fitz) PageText(path string, page int) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return "", fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}
	text, err := doc.Text(page)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}
	return text, nil
}

// Merge trims each referenced page into a temp single-page PDF and merges
// them in order. pdfcpu page selections are 1-based.
func (e *Fitz) Merge(refs []PageRef, outPath string) error {
	if len(refs) == 0 {
		return fmt.Errorf("merge: no pages selected")
	}
	tmpDir, err := os.MkdirTemp("", "tipificador-merge-*")
	if err != nil {
		return fmt.Errorf("create merge temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	parts := make([]string, 0, len(refs))
	for i, ref := range refs {
		part := filepath.Join(tmpDir, fmt.Sprintf("part_%d.pdf", i))
		sel := []string{strconv.Itoa(ref.Page + 1)}
		if err := api.TrimFile(ref.Path, part, sel, nil); err != nil {
			return fmt.Errorf("trim page %d of %s: %w", ref.Page, ref.Path, err)
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		data, err := os.ReadFile(parts[0])
		if err != nil {
			return fmt.Errorf("read merged part: %w", err)
		}
		return os.WriteFile(outPath, data, 0o644)
	}
	if err := api.MergeCreateFile(parts, outPath, nil); err != nil {
		return fmt.Errorf("merge pages: %w", err)
	}
	return nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
