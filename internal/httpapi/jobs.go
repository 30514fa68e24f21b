package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/assemble"
	"github.com/local/tipificador/internal/invoice"
	"github.com/local/tipificador/internal/job"
)

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	// Opportunistic expiry sweep, mirrored from the single-host design: new
	// work is the natural moment to reclaim stale scratch.
	go a.Store.Sweep(a.Cfg.Storage.JobTTL)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, apperr.Wrap(apperr.BadInput, "formulario multipart inválido", err))
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["files[]"]
	}
	if len(headers) == 0 {
		writeErr(w, apperr.New(apperr.BadInput, "se requiere al menos un PDF"))
		return
	}

	sources := make([]job.Source, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeErr(w, apperr.Wrap(apperr.BadInput, "no se pudo leer el archivo subido", err))
			return
		}
		defer f.Close()
		sources = append(sources, job.Source{Name: h.Filename, Reader: f})
	}

	meta, err := a.Jobs.Create(sources)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":      meta.JobID,
		"totalPages": meta.TotalPages,
		"files":      meta.Files,
	})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	meta, _, err := a.Jobs.Load(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) pageArgs(r *http.Request) (*job.Meta, string, int, error) {
	meta, dir, err := a.Jobs.Load(r.PathValue("id"))
	if err != nil {
		return nil, "", 0, err
	}
	g, err := strconv.Atoi(r.PathValue("g"))
	if err != nil {
		return nil, "", 0, apperr.New(apperr.NotFound, "índice de página inválido")
	}
	return meta, dir, g, nil
}

func (a *API) handleThumb(w http.ResponseWriter, r *http.Request) {
	meta, dir, g, err := a.pageArgs(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	png, err := a.Jobs.Thumb(meta, dir, g)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (a *API) handleView(w http.ResponseWriter, r *http.Request) {
	meta, dir, g, err := a.pageArgs(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	png, err := a.Jobs.View(meta, dir, g)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (a *API) handleOcrText(w http.ResponseWriter, r *http.Request) {
	meta, dir, g, err := a.pageArgs(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	refresh := r.URL.Query().Get("refresh") == "1" || r.URL.Query().Get("refresh") == "true"
	text, err := a.Extractor.FullText(r.Context(), meta, dir, g, refresh)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

func (a *API) handleAutoClassify(w http.ResponseWriter, r *http.Request) {
	meta, dir, err := a.Jobs.Load(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	cats, err := a.Extractor.AutoClassify(r.Context(), meta, dir, a.Cfg.Worker.ClassifyWorkers, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	classifications := make(map[string]string, len(cats))
	for g, cat := range cats {
		classifications[strconv.Itoa(g)] = string(cat)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classifications": classifications,
		"ocrEnabled":      a.Cfg.OCR.Enabled,
	})
}

type processRequest struct {
	Classifications map[string]*string `json:"classifications"`
	NitOverride     string             `json:"nitOverride"`
	OcfeOverride    string             `json:"ocfeOverride"`
	KeepJob         bool               `json:"keepJob"`
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	meta, dir, err := a.Jobs.Load(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	pages := assemble.PagesByCategory(req.Classifications, meta.TotalPages)
	ov := invoice.Overrides{Nit: req.NitOverride, Code: req.OcfeOverride}

	var buf bytes.Buffer
	md, err := a.Assembler.Process(meta, dir, pages, ov, &buf)
	if err != nil {
		writeErr(w, err)
		return
	}

	if !req.KeepJob {
		a.Jobs.Remove(meta.JobID)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", assemble.ArchiveName(md)))
	w.Write(buf.Bytes())
}
