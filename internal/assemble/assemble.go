package assemble

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/classify"
	"github.com/local/tipificador/internal/invoice"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/metrics"
	"github.com/local/tipificador/internal/pdfengine"
)

// Assembler concatenates classified pages into per-category PDFs and zips
// them for delivery.
type Assembler struct {
	Jobs *job.Service
}

func New(jobs *job.Service) *Assembler { return &Assembler{Jobs: jobs} }

// PagesByCategory parses the caller's classification map tolerantly: keys
// that are not numbers, indices out of range and null values are skipped.
// Page lists come out in ascending global index order.
func PagesByCategory(classifications map[string]*string, totalPages int) map[classify.Category][]int {
	pages := make(map[classify.Category][]int)
	for k, v := range classifications {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= totalPages {
			continue
		}
		if v == nil || !classify.Valid(*v) {
			continue
		}
		cat := classify.Category(*v)
		pages[cat] = append(pages[cat], idx)
	}
	for _, list := range pages {
		sort.Ints(list)
	}
	return pages
}

// PagesFromAuto buckets an auto-classification result per category, in
// ascending global index order.
func PagesFromAuto(cats map[int]classify.Category) map[classify.Category][]int {
	pages := make(map[classify.Category][]int)
	for g, cat := range cats {
		pages[cat] = append(pages[cat], g)
	}
	for _, list := range pages {
		sort.Ints(list)
	}
	return pages
}

// RequireFev enforces that at least one page is classified FEV.
func RequireFev(pages map[classify.Category][]int) error {
	if len(pages[classify.FEV]) == 0 {
		return apperr.New(apperr.FevRequired, "FEV es obligatorio: tipifica al menos una página como FEV.")
	}
	return nil
}

// ArchiveName is the delivery filename of a single-job archive.
func ArchiveName(md invoice.Metadata) string { return md.Code + ".zip" }

// DownloadName is the long-form name batch packages carry into the
// consolidated archive.
func DownloadName(md invoice.Metadata) string {
	return fmt.Sprintf("TIPIFICADO_%s_%s.zip", md.Nit, md.Code)
}

// BuildZip writes the final archive: one `<CAT>_<nit>_<code>.pdf` per
// non-empty category in the fixed order, DEFLATE-compressed.
func (a *Assembler) BuildZip(meta *job.Meta, dir string, pages map[classify.Category][]int, md invoice.Metadata, w io.Writer) error {
	tmpDir, err := os.MkdirTemp("", "tipificador-assemble-*")
	if err != nil {
		metrics.IncAssembly("error")
		return apperr.Wrap(apperr.Internal, "no se pudo crear el directorio de ensamblado", err)
	}
	defer os.RemoveAll(tmpDir)

	zw := zip.NewWriter(w)
	for _, cat := range classify.Categories {
		indices := pages[cat]
		if len(indices) == 0 {
			continue
		}
		if cat == classify.HEV {
			indices = a.sortHevByDate(dir, indices)
		}

		refs := make([]pdfengine.PageRef, 0, len(indices))
		for _, g := range indices {
			ref, err := a.Jobs.PageRef(meta, dir, g)
			if err != nil {
				zw.Close()
				metrics.IncAssembly("error")
				return err
			}
			refs = append(refs, ref)
		}

		pdfPath := filepath.Join(tmpDir, fmt.Sprintf("%s.pdf", cat))
		if err := a.Jobs.Engine.Merge(refs, pdfPath); err != nil {
			zw.Close()
			metrics.IncAssembly("error")
			return apperr.Wrap(apperr.Internal, "fallo al concatenar páginas", err)
		}

		name := fmt.Sprintf("%s_%s_%s.pdf", cat, md.Nit, md.Code)
		if err := addFileToZip(zw, name, pdfPath); err != nil {
			zw.Close()
			metrics.IncAssembly("error")
			return apperr.Wrap(apperr.Internal, "fallo al empaquetar", err)
		}
	}
	if err := zw.Close(); err != nil {
		metrics.IncAssembly("error")
		return apperr.Wrap(apperr.Internal, "fallo al cerrar el archivo zip", err)
	}
	metrics.IncAssembly("ok")
	return nil
}

func addFileToZip(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

var fechaCreacionRe = regexp.MustCompile(`FECHA\s+DE\s+CREACION\s*:?\s*(\d{1,2}/\d{1,2}/\d{4})`)

// sortHevByDate orders HEV pages by their FECHA DE CREACION ascending. Pages
// without a parseable date keep their relative order at the end.
func (a *Assembler) sortHevByDate(dir string, indices []int) []int {
	type dated struct {
		g    int
		when time.Time
		ok   bool
	}
	items := make([]dated, 0, len(indices))
	for _, g := range indices {
		when, ok := a.fechaCreacion(dir, g)
		items = append(items, dated{g: g, when: when, ok: ok})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ok != items[j].ok {
			return items[i].ok
		}
		if !items[i].ok {
			return false
		}
		return items[i].when.Before(items[j].when)
	})
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.g
	}
	return out
}

// fechaCreacion looks for the creation date in the page's cached text,
// preferring embedded text over OCR output.
func (a *Assembler) fechaCreacion(dir string, g int) (time.Time, bool) {
	for _, path := range []string{job.TextPath(dir, g), job.OcrPath(dir, g), job.OcrHeadPath(dir, g)} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		m := fechaCreacionRe.FindStringSubmatch(classify.Normalize(string(data)))
		if m == nil {
			continue
		}
		when, err := time.Parse("2/1/2006", m[1])
		if err != nil {
			log.Debug().Str("raw", m[1]).Int("page", g).Msg("unparseable creation date")
			continue
		}
		return when, true
	}
	return time.Time{}, false
}
