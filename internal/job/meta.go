package job

import (
	"fmt"
	"path/filepath"

	"github.com/local/tipificador/internal/apperr"
)

// Meta is the persisted job record. PageMap gives the flat page addressing
// every endpoint uses: PageMap[g] = [pdfIdx, localPage].
type Meta struct {
	JobID      string   `json:"jobId"`
	Files      int      `json:"files"`
	TotalPages int      `json:"totalPages"`
	PageMap    [][2]int `json:"page_map"`
	CreatedAt  int64    `json:"createdAt"`
}

// Resolve maps a global page index to its source PDF and local page.
func (m *Meta) Resolve(g int) (pdfIdx, local int, err error) {
	if g < 0 || g >= len(m.PageMap) {
		return 0, 0, apperr.Newf(apperr.NotFound, "página %d fuera de rango", g)
	}
	return m.PageMap[g][0], m.PageMap[g][1], nil
}

// SourcePath returns the on-disk path of source PDF i inside a job dir.
func SourcePath(dir string, i int) string {
	return filepath.Join(dir, "pdfs", fmt.Sprintf("src_%d.pdf", i))
}

// PdfGroups buckets global page indices by their owning source PDF, in page
// order. Classification propagation correlates pages through this grouping.
func (m *Meta) PdfGroups() map[int][]int {
	groups := make(map[int][]int)
	for g, pair := range m.PageMap {
		groups[pair[0]] = append(groups[pair[0]], g)
	}
	return groups
}
