package pdfengine

import (
	"fmt"

	pdf "github.com/Geek0x0/pdf"
)

// PageSpans returns the positioned text runs of a page, row by row. The PDF
// coordinate system grows bottom-to-top, so Y is flipped against the media box
// height to give top-origin coordinates.
func (e *Fitz) PageSpans(path string, page int) ([]Span, float64, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open PDF for span extraction: %w", err)
	}
	defer f.Close()

	if page < 0 || page >= r.NumPage() {
		return nil, 0, fmt.Errorf("page %d out of range (document has %d pages)", page, r.NumPage())
	}
	p := r.Page(page + 1)
	if p.V.IsNull() {
		return nil, 0, fmt.Errorf("page %d is missing from the page tree", page)
	}

	height := mediaBoxHeight(p)

	rows, err := p.GetTextByRow()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read text rows from page %d: %w", page, err)
	}

	var spans []Span
	for _, row := range rows {
		for _, t := range row.Content {
			if t.S == "" {
				continue
			}
			spans = append(spans, Span{
				Text: t.S,
				X:    t.X,
				Y:    height - t.Y,
			})
		}
	}
	return spans, height, nil
}

func mediaBoxHeight(p pdf.Page) float64 {
	// The library's Page.MediaBox accessor is not exported; resolve the
	// inherited MediaBox entry from the page dictionary directly.
	var box pdf.Value
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key("MediaBox"); !r.IsNull() {
			box = r
			break
		}
	}
	if box.Len() != 4 {
		return 792 // US Letter
	}
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if h <= 0 {
		return 792
	}
	return h
}
