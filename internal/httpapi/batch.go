package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/batch"
	"github.com/local/tipificador/internal/scratch"
)

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	go a.Store.Sweep(a.Cfg.Storage.JobTTL)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, apperr.Wrap(apperr.BadInput, "formulario multipart inválido", err))
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, apperr.New(apperr.BadInput, "se requiere un archivo ZIP"))
		return
	}
	defer f.Close()

	meta, err := a.Batches.Create(f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleBatchUploadURL(w http.ResponseWriter, r *http.Request) {
	key, url, err := a.Batches.UploadURL(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "uploadUrl": url})
}

func (a *API) handleBatchFromBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Key == "" {
		writeErr(w, apperr.New(apperr.BadInput, "se requiere la clave del objeto"))
		return
	}
	meta, err := a.Batches.CreateFromBlob(r.Context(), req.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := a.Batches.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	meta, err := a.Batches.Start(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleBatchCancel(w http.ResponseWriter, r *http.Request) {
	meta, err := a.Batches.Cancel(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleBatchRetry(w http.ResponseWriter, r *http.Request) {
	meta, err := a.Batches.RetryErrors(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleBatchDownload serves batch artifacts from disk, falling back to a
// signed blob URL when the file only lives in the object store.
func (a *API) handleBatchDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	file := r.PathValue("file")
	if !scratch.ValidID(id) {
		writeErr(w, apperr.New(apperr.NotFound, "lote no existe o expiró"))
		return
	}
	if file != filepath.Base(file) || !strings.HasSuffix(file, ".zip") {
		writeErr(w, apperr.New(apperr.BadInput, "nombre de archivo inválido"))
		return
	}

	// The consolidated archive lives on disk as all.zip but is delivered
	// under its client-facing name.
	downloadAs := file
	if file == batch.ConsolidatedName {
		downloadAs = batch.ConsolidatedDownloadName
	}

	path := filepath.Join(a.Store.BatchDir(id), "results", file)
	if _, err := os.Stat(path); err != nil {
		if url := a.Batches.DownloadURL(r.Context(), id, file); url != "" {
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		}
		writeErr(w, apperr.New(apperr.NotFound, "resultado no disponible"))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+downloadAs+"\"")
	http.ServeFile(w, r, path)
}
