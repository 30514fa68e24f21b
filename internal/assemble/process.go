package assemble

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/classify"
	"github.com/local/tipificador/internal/invoice"
	"github.com/local/tipificador/internal/job"
)

// ResolveInvoice runs the invoice metadata extractor over the FEV page set.
// Positional spans come from the PDF engine; the text fallback reuses
// whatever text the classification tiers already cached.
func (a *Assembler) ResolveInvoice(meta *job.Meta, dir string, fevPages []int, ov invoice.Overrides) (invoice.Metadata, error) {
	pages := make([]invoice.Page, 0, len(fevPages))
	texts := make([]string, 0, len(fevPages))

	for _, g := range fevPages {
		ref, err := a.Jobs.PageRef(meta, dir, g)
		if err != nil {
			return invoice.Metadata{}, err
		}
		spans, height, err := a.Jobs.Engine.PageSpans(ref.Path, ref.Page)
		if err != nil {
			log.Debug().Err(err).Int("page", g).Msg("no positional spans for FEV page")
		} else {
			pages = append(pages, invoice.Page{Spans: spans, Height: height})
		}
		texts = append(texts, a.pageText(meta, dir, g))
	}
	return invoice.Resolve(ov, pages, texts)
}

// pageText prefers the embedded text cache and falls back to OCR caches left
// by the classification tiers.
func (a *Assembler) pageText(meta *job.Meta, dir string, g int) string {
	text, err := a.Jobs.EmbeddedText(meta, dir, g)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	for _, path := range []string{job.OcrPath(dir, g), job.OcrHeadPath(dir, g)} {
		if data, rerr := os.ReadFile(path); rerr == nil && strings.TrimSpace(string(data)) != "" {
			return string(data)
		}
	}
	return ""
}

// Process is the full assembly pipeline shared by the single-job endpoint and
// the batch worker: enforce FEV, resolve invoice metadata, write the archive.
func (a *Assembler) Process(meta *job.Meta, dir string, pages map[classify.Category][]int, ov invoice.Overrides, w io.Writer) (invoice.Metadata, error) {
	if err := RequireFev(pages); err != nil {
		return invoice.Metadata{}, err
	}
	md, err := a.ResolveInvoice(meta, dir, pages[classify.FEV], ov)
	if err != nil {
		return invoice.Metadata{}, err
	}
	if err := a.BuildZip(meta, dir, pages, md, w); err != nil {
		return invoice.Metadata{}, err
	}
	return md, nil
}
