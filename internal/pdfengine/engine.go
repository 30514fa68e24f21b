package pdfengine

// PageRef addresses one page inside a source PDF on disk. Page is 0-based.
type PageRef struct {
	Path string
	Page int
}

// Span is a positioned run of text on a page. Y grows downward from the top
// edge so "header band" checks read naturally.
type Span struct {
	Text string
	X    float64
	Y    float64
}

// Engine is the narrow PDF surface the pipeline depends on. The production
// implementation combines MuPDF rendering with pdfcpu page surgery; tests
// substitute fakes.
type Engine interface {
	// Validate rejects files that are not structurally sound PDFs.
	Validate(path string) error
	// PageCount returns the number of pages.
	PageCount(path string) (int, error)
	// RenderWidth renders a page to PNG scaled so the output is targetWidth
	// pixels wide.
	RenderWidth(path string, page, targetWidth int) ([]byte, error)
	// RenderDPI renders a page to PNG at the given DPI. When 0 < headerRatio < 1
	// only the top headerRatio of the page is returned.
	RenderDPI(path string, page, dpi int, headerRatio float64) ([]byte, error)
	// PageText returns the embedded text of a page.
	PageText(path string, page int) (string, error)
	// PageSpans returns positioned text spans plus the page height in points.
	PageSpans(path string, page int) ([]Span, float64, error)
	// Merge builds a new PDF at outPath containing exactly refs, in order.
	Merge(refs []PageRef, outPath string) error
}
