package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/tipificador/internal/assemble"
	"github.com/local/tipificador/internal/batch"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/ocr"
	"github.com/local/tipificador/internal/pdfengine"
	"github.com/local/tipificador/internal/scratch"
	"github.com/local/tipificador/internal/textextract"
)

const pdfStub = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n"

// fakeEngine serves canned page text so handlers run without MuPDF.
type fakeEngine struct {
	pages    int
	pageText map[int]string
	text     string
}

func (f *fakeEngine) Validate(string) error { return nil }
func (f *fakeEngine) PageCount(string) (int, error) {
	if f.pages > 0 {
		return f.pages, nil
	}
	return len(f.pageText), nil
}
func (f *fakeEngine) RenderWidth(string, int, int) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}
func (f *fakeEngine) RenderDPI(string, int, int, float64) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}
func (f *fakeEngine) PageText(_ string, page int) (string, error) {
	if f.pageText != nil {
		return f.pageText[page], nil
	}
	return f.text, nil
}
func (f *fakeEngine) PageSpans(string, int) ([]pdfengine.Span, float64, error) {
	return nil, 0, errors.New("no spans")
}
func (f *fakeEngine) Merge(_ []pdfengine.PageRef, outPath string) error {
	return os.WriteFile(outPath, []byte(pdfStub), 0o644)
}

func newTestMux(t *testing.T, engine *fakeEngine) *http.ServeMux {
	t.Helper()
	store, err := scratch.New(t.TempDir())
	require.NoError(t, err)

	limits := config.LimitsConfig{
		MaxFileBytes:     1 << 20,
		MaxFilesPerJob:   10,
		MaxBatchPackages: 5,
		MaxBatchBytes:    1 << 20,
	}
	render := config.RenderConfig{ThumbWidth: 240, ViewWidth: 1100}
	ocrCfg := config.OCRConfig{Enabled: false, MinTextLen: 10}

	jobs := job.NewService(store, engine, limits, render)
	ex := textextract.NewExtractor(jobs, ocr.Disabled{}, ocrCfg)
	asm := assemble.New(jobs)
	batches := batch.NewOrchestrator(store, jobs, ex, asm, nil, limits, time.Minute)

	cfg := config.Config{
		Storage: config.StorageConfig{JobTTL: time.Hour},
		Limits:  limits,
		OCR:     ocrCfg,
		Render:  render,
		Worker:  config.WorkerConfig{ClassifyWorkers: 2},
	}

	mux := http.NewServeMux()
	New(jobs, ex, asm, batches, store, cfg).RegisterRoutes(mux)
	return mux
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(mux *http.ServeMux, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func createJob(t *testing.T, mux *http.ServeMux, files map[string]string) string {
	t.Helper()
	body, ct := multipartBody(t, "files", files)
	rec := doRequest(mux, http.MethodPost, "/jobs", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.JobID, 32)
	return resp.JobID
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	rec := doRequest(mux, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndGetJob(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 3})
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	rec := doRequest(mux, http.MethodGet, "/jobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var meta job.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, 3, meta.TotalPages)
	assert.Equal(t, 1, meta.Files)
}

func TestCreateJobRejectsNonPdf(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	body, ct := multipartBody(t, "files", map[string]string{"x.txt": "hola mundo, esto no es un pdf"})
	rec := doRequest(mux, http.MethodPost, "/jobs", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Detail)
}

func TestGetUnknownJobIs404(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	rec := doRequest(mux, http.MethodGet, "/jobs/"+strings.Repeat("ab", 16), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThumbServesPng(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	rec := doRequest(mux, http.MethodGet, "/jobs/"+id+"/pages/0/thumb.png", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestOcrTextDisabledIs503(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	rec := doRequest(mux, http.MethodGet, "/jobs/"+id+"/pages/0/ocr.txt", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAutoClassify(t *testing.T) {
	engine := &fakeEngine{pageText: map[int]string{
		0: "FACTURA ELECTRONICA DE VENTA OCFE 5871 con texto suficiente",
		1: "pagina de acompanamiento sin marcadores propios",
	}}
	mux := newTestMux(t, engine)
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	rec := doRequest(mux, http.MethodPost, "/jobs/"+id+"/auto-classify", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Classifications map[string]string `json:"classifications"`
		OcrEnabled      bool              `json:"ocrEnabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OcrEnabled)
	assert.Equal(t, "FEV", resp.Classifications["0"])
	assert.Equal(t, "FEV", resp.Classifications["1"], "lone FEV hit dominates its PDF")
}

func TestProcessWithoutFevIs400(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 2, text: "HISTORIA CLINICA del paciente"})
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	payload := `{"classifications":{"0":"HEV","1":"HEV"}}`
	rec := doRequest(mux, http.MethodPost, "/jobs/"+id+"/process", strings.NewReader(payload), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FEV es obligatorio: tipifica al menos una página como FEV.", resp.Detail)
}

func TestProcessUnresolvedThenOverride(t *testing.T) {
	// A FEV page whose text carries neither NIT nor invoice number.
	mux := newTestMux(t, &fakeEngine{pages: 1, text: "FACTURA ELECTRONICA DE VENTA"})
	id := createJob(t, mux, map[string]string{"doc.pdf": pdfStub})

	payload := `{"classifications":{"0":"FEV"}}`
	rec := doRequest(mux, http.MethodPost, "/jobs/"+id+"/process", strings.NewReader(payload), "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Detail struct {
			Message      string  `json:"message"`
			NitDetected  *string `json:"nitDetected"`
			OcfeDetected *string `json:"ocfeDetected"`
		} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "No pude detectar NIT y/o OCFE desde FEV. Ingresa NIT y OCFE manualmente para continuar.", resp.Detail.Message)
	assert.Nil(t, resp.Detail.NitDetected)
	assert.Nil(t, resp.Detail.OcfeDetected)

	// Manual overrides unblock the same job.
	payload = `{"classifications":{"0":"FEV"},"nitOverride":"900.204.617-5","ocfeOverride":"5871"}`
	rec = doRequest(mux, http.MethodPost, "/jobs/"+id+"/process", strings.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"OCFE5871.zip"`)

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "FEV_900204617_OCFE5871.pdf", zr.File[0].Name)

	// Delivery consumes the job by default.
	rec = doRequest(mux, http.MethodGet, "/jobs/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func batchZip(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return multipartBody(t, "file", map[string]string{"batch.zip": zbuf.String()})
}

func TestBatchCancelBeforeStart(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1, text: "FACTURA ELECTRONICA DE VENTA"})
	body, ct := batchZip(t, map[string]string{"P1/doc.pdf": pdfStub})

	rec := doRequest(mux, http.MethodPost, "/batch", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var meta batch.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, batch.StatusReady, meta.Status)
	require.Len(t, meta.Packages, 1)
	assert.Equal(t, "P1", meta.Packages[0].Name)

	rec = doRequest(mux, http.MethodPost, "/batch/"+meta.BatchID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, batch.StatusCancelled, meta.Status)
	assert.Equal(t, batch.PkgCancelled, meta.Packages[0].Status)

	// Cancellation sticks across status reads.
	rec = doRequest(mux, http.MethodGet, "/batch/"+meta.BatchID, nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, batch.StatusCancelled, meta.Status)
}

func TestBatchRunsToCompletion(t *testing.T) {
	engine := &fakeEngine{pages: 1, text: "FACTURA ELECTRONICA DE VENTA\nNIT 900204617\nOCFE 5871"}
	mux := newTestMux(t, engine)
	body, ct := batchZip(t, map[string]string{
		"P1/doc.pdf": pdfStub,
		"P2/doc.pdf": pdfStub,
	})

	rec := doRequest(mux, http.MethodPost, "/batch", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var meta batch.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))

	rec = doRequest(mux, http.MethodPost, "/batch/"+meta.BatchID+"/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := doRequest(mux, http.MethodGet, "/batch/"+meta.BatchID, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		var m batch.Meta
		if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
			return false
		}
		return m.Status == batch.StatusDone
	}, 5*time.Second, 20*time.Millisecond, "batch never reached done")

	rec = doRequest(mux, http.MethodGet, "/batch/"+meta.BatchID, nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	for _, pkg := range meta.Packages {
		assert.Equal(t, batch.PkgDone, pkg.Status)
		assert.Equal(t, pkg.Name+".zip", pkg.ResultFile)
		assert.Equal(t, "TIPIFICADO_900204617_OCFE5871.zip", pkg.DownloadName)
	}

	// Per-package artifact and the consolidated archive are downloadable.
	rec = doRequest(mux, http.MethodGet, "/batch/"+meta.BatchID+"/download/P1.zip", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"P1.zip"`)

	// all.zip is the on-disk name; clients receive the batch-wide name.
	rec = doRequest(mux, http.MethodGet, "/batch/"+meta.BatchID+"/download/"+batch.ConsolidatedName, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"`+batch.ConsolidatedDownloadName+`"`)
}

func TestBatchDownloadRejectsBadName(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	id := strings.Repeat("ab", 16)
	rec := doRequest(mux, http.MethodGet, "/batch/"+id+"/download/notas.txt", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchUploadURLWithoutBlobIs400(t *testing.T) {
	mux := newTestMux(t, &fakeEngine{pages: 1})
	rec := doRequest(mux, http.MethodPost, "/batch/upload-url", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
