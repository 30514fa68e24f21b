package assemble

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/classify"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/invoice"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/pdfengine"
	"github.com/local/tipificador/internal/scratch"
)

const pdfStub = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n"

// fakeEngine records every Merge call and writes a stub PDF as output.
type fakeEngine struct {
	pages  int
	merges [][]pdfengine.PageRef
	spans  []pdfengine.Span
	height float64
	text   map[int]string
}

func (f *fakeEngine) Validate(string) error         { return nil }
func (f *fakeEngine) PageCount(string) (int, error) { return f.pages, nil }
func (f *fakeEngine) RenderWidth(string, int, int) ([]byte, error) {
	return []byte("png"), nil
}
func (f *fakeEngine) RenderDPI(string, int, int, float64) ([]byte, error) {
	return []byte("png"), nil
}
func (f *fakeEngine) PageText(_ string, page int) (string, error) {
	if f.text == nil {
		return "", nil
	}
	return f.text[page], nil
}
func (f *fakeEngine) PageSpans(string, int) ([]pdfengine.Span, float64, error) {
	if f.spans == nil {
		return nil, 0, errors.New("no spans")
	}
	return f.spans, f.height, nil
}
func (f *fakeEngine) Merge(refs []pdfengine.PageRef, outPath string) error {
	f.merges = append(f.merges, refs)
	return os.WriteFile(outPath, []byte(pdfStub), 0o644)
}

func newFixture(t *testing.T, engine *fakeEngine, files int) (*Assembler, *job.Meta, string) {
	t.Helper()
	store, err := scratch.New(t.TempDir())
	require.NoError(t, err)
	jobs := job.NewService(store, engine,
		config.LimitsConfig{MaxFileBytes: 1 << 20, MaxFilesPerJob: 10},
		config.RenderConfig{ThumbWidth: 240, ViewWidth: 1100})

	sources := make([]job.Source, files)
	for i := range sources {
		sources[i] = job.Source{Name: "f.pdf", Reader: strings.NewReader(pdfStub)}
	}
	meta, err := jobs.Create(sources)
	require.NoError(t, err)
	_, dir, err := jobs.Load(meta.JobID)
	require.NoError(t, err)
	return New(jobs), meta, dir
}

func strptr(s string) *string { return &s }

func TestPagesByCategoryTolerantParse(t *testing.T) {
	input := map[string]*string{
		"0":  strptr("FEV"),
		"2":  strptr("HEV"),
		"1":  strptr("HEV"),
		"x":  strptr("CRC"),  // non-numeric key
		"99": strptr("CRC"),  // out of range
		"3":  nil,            // explicit null
		"4":  strptr("ABCD"), // unknown category
	}
	pages := PagesByCategory(input, 5)

	assert.Equal(t, []int{0}, pages[classify.FEV])
	assert.Equal(t, []int{1, 2}, pages[classify.HEV])
	assert.Empty(t, pages[classify.CRC])
}

func TestRequireFev(t *testing.T) {
	err := RequireFev(map[classify.Category][]int{classify.HEV: {0, 1}})
	require.Error(t, err)
	assert.Equal(t, apperr.FevRequired, apperr.KindOf(err))

	assert.NoError(t, RequireFev(map[classify.Category][]int{classify.FEV: {0}}))
}

func TestNames(t *testing.T) {
	md := invoice.Metadata{Nit: "900204617", Code: "OCFE5871"}
	assert.Equal(t, "OCFE5871.zip", ArchiveName(md))
	assert.Equal(t, "TIPIFICADO_900204617_OCFE5871.zip", DownloadName(md))
}

func TestBuildZipEntriesAndOrder(t *testing.T) {
	engine := &fakeEngine{pages: 4}
	asm, meta, dir := newFixture(t, engine, 1)

	md := invoice.Metadata{Nit: "900204617", Code: "OCFE5871"}
	pages := map[classify.Category][]int{
		classify.FEV: {0},
		classify.CRC: {1, 2},
		classify.OPF: {3},
	}

	var buf bytes.Buffer
	require.NoError(t, asm.BuildZip(meta, dir, pages, md, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	// Fixed category order: CRC, FEV, HEV, OPF, PDE.
	assert.Equal(t, []string{
		"CRC_900204617_OCFE5871.pdf",
		"FEV_900204617_OCFE5871.pdf",
		"OPF_900204617_OCFE5871.pdf",
	}, names)

	// CRC merge got both pages in ascending order.
	require.Len(t, engine.merges, 3)
	assert.Equal(t, 1, engine.merges[0][0].Page)
	assert.Equal(t, 2, engine.merges[0][1].Page)
}

func TestHevDateOrdering(t *testing.T) {
	engine := &fakeEngine{pages: 4}
	asm, meta, dir := newFixture(t, engine, 1)

	// Cached text drives the sort: 15/02, 01/01, undated, 07/01.
	require.NoError(t, os.WriteFile(job.TextPath(dir, 0), []byte("FECHA DE CREACIÓN: 15/02/2024"), 0o644))
	require.NoError(t, os.WriteFile(job.TextPath(dir, 1), []byte("FECHA DE CREACION: 01/01/2024"), 0o644))
	require.NoError(t, os.WriteFile(job.TextPath(dir, 2), []byte("sin fecha"), 0o644))
	require.NoError(t, os.WriteFile(job.TextPath(dir, 3), []byte("FECHA DE CREACION: 07/01/2024"), 0o644))

	md := invoice.Metadata{Nit: "900204617", Code: "OCFE5871"}
	pages := map[classify.Category][]int{
		classify.FEV: {0},
		classify.HEV: {0, 1, 2, 3},
	}

	var buf bytes.Buffer
	require.NoError(t, asm.BuildZip(meta, dir, pages, md, &buf))

	// merges[1] is the HEV document (after FEV in category order).
	require.Len(t, engine.merges, 2)
	hev := engine.merges[1]
	got := make([]int, len(hev))
	for i, ref := range hev {
		got[i] = ref.Page
	}
	assert.Equal(t, []int{1, 3, 0, 2}, got, "dated ascending, undated last")
}

func TestProcessUnresolvedThenOverride(t *testing.T) {
	engine := &fakeEngine{pages: 1, text: map[int]string{0: "FACTURA"}}
	asm, meta, dir := newFixture(t, engine, 1)
	pages := map[classify.Category][]int{classify.FEV: {0}}

	var buf bytes.Buffer
	_, err := asm.Process(meta, dir, pages, invoice.Overrides{}, &buf)
	require.Error(t, err)
	assert.Equal(t, apperr.Unresolved, apperr.KindOf(err))

	md, err := asm.Process(meta, dir, pages, invoice.Overrides{Nit: "900.204.617-5", Code: "5871"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "900204617", md.Nit)
	assert.Equal(t, "OCFE5871", md.Code)
}

func TestProcessFevRequired(t *testing.T) {
	engine := &fakeEngine{pages: 2}
	asm, meta, dir := newFixture(t, engine, 1)

	var buf bytes.Buffer
	_, err := asm.Process(meta, dir, map[classify.Category][]int{classify.HEV: {0, 1}}, invoice.Overrides{}, &buf)
	require.Error(t, err)
	assert.Equal(t, apperr.FevRequired, apperr.KindOf(err))
}
