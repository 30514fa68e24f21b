package invoice

import (
	"sort"
	"strings"

	"github.com/local/tipificador/internal/pdfengine"
)

// headerBandRatio bounds the positional search to the top of the page, where
// Colombian invoice headers carry the NIT and the invoice number.
const headerBandRatio = 0.40

// Page is one FEV page prepared for positional search.
type Page struct {
	Spans  []pdfengine.Span
	Height float64
}

type pageClass int

const (
	classFev pageClass = iota
	classNc
	classOther
)

func classifyPage(text string) pageClass {
	upper := strings.ToUpper(text)
	if strings.Contains(upper, "FACTURA ELECTRONICA DE VENTA") {
		return classFev
	}
	if strings.Contains(upper, "NOTA DE CREDITO") {
		return classNc
	}
	return classOther
}

type candidate struct {
	value string
	x, y  float64
	class pageClass
}

// ExtractPositional looks for the NIT and invoice code inside the header band
// of each FEV page. Candidates on pages titled as invoices win; ties break by
// smallest (y, x), i.e. closest to the top-left corner.
func ExtractPositional(pages []Page) (nit, code string) {
	var nits, codes []candidate

	for _, page := range pages {
		var full strings.Builder
		for _, s := range page.Spans {
			full.WriteString(s.Text)
			full.WriteString("\n")
		}
		class := classifyPage(full.String())
		band := page.Height * headerBandRatio

		for _, span := range page.Spans {
			if span.Y > band {
				continue
			}
			upper := strings.ToUpper(span.Text)

			if m := nitRe.FindStringSubmatch(span.Text); m != nil {
				if v := NormalizeNIT(m[1]); v != "" {
					nits = append(nits, candidate{value: v, x: span.X, y: span.Y, class: class})
				}
			}

			if m := ocfeRe.FindStringSubmatch(span.Text); m != nil {
				codes = append(codes, candidate{value: "OCFE" + m[1], x: span.X, y: span.Y, class: class})
			} else if hasInvoiceHint(upper) {
				for _, gm := range codeRe.FindAllStringSubmatch(upper, -1) {
					if rejectedPrefixes[gm[1]] {
						continue
					}
					codes = append(codes, candidate{value: gm[1] + gm[2], x: span.X, y: span.Y, class: class})
					break
				}
			}
		}
	}

	return pickCandidate(nits), pickCandidate(codes)
}

func pickCandidate(cands []candidate) string {
	if len(cands) == 0 {
		return ""
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].y != cands[j].y {
			return cands[i].y < cands[j].y
		}
		return cands[i].x < cands[j].x
	})
	for _, c := range cands {
		if c.class == classFev {
			return c.value
		}
	}
	return cands[0].value
}
