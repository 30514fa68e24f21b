package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/assemble"
	"github.com/local/tipificador/internal/batch"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/scratch"
	"github.com/local/tipificador/internal/textextract"
)

// API wires the HTTP surface to the pipeline services.
type API struct {
	Jobs      *job.Service
	Extractor *textextract.Extractor
	Assembler *assemble.Assembler
	Batches   *batch.Orchestrator
	Store     *scratch.Store
	Cfg       config.Config
}

func New(jobs *job.Service, ex *textextract.Extractor, asm *assemble.Assembler, batches *batch.Orchestrator, store *scratch.Store, cfg config.Config) *API {
	return &API{Jobs: jobs, Extractor: ex, Assembler: asm, Batches: batches, Store: store, Cfg: cfg}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("POST /jobs", a.handleCreateJob)
	mux.HandleFunc("GET /jobs/{id}", a.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/pages/{g}/thumb.png", a.handleThumb)
	mux.HandleFunc("GET /jobs/{id}/pages/{g}/view.png", a.handleView)
	mux.HandleFunc("GET /jobs/{id}/pages/{g}/ocr.txt", a.handleOcrText)
	mux.HandleFunc("POST /jobs/{id}/auto-classify", a.handleAutoClassify)
	mux.HandleFunc("POST /jobs/{id}/process", a.handleProcess)

	mux.HandleFunc("POST /batch", a.handleCreateBatch)
	mux.HandleFunc("POST /batch/upload-url", a.handleBatchUploadURL)
	mux.HandleFunc("POST /batch/from-gcs", a.handleBatchFromBlob)
	mux.HandleFunc("GET /batch/{id}", a.handleBatchStatus)
	mux.HandleFunc("POST /batch/{id}/start", a.handleBatchStart)
	mux.HandleFunc("POST /batch/{id}/cancel", a.handleBatchCancel)
	mux.HandleFunc("POST /batch/{id}/retry-errors", a.handleBatchRetry)
	mux.HandleFunc("GET /batch/{id}/download/{file}", a.handleBatchDownload)
}

// CORS wraps the mux so browser frontends can talk to the API directly.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("could not encode response")
	}
}

// writeErr maps application errors to their wire shape. Unresolved carries a
// structured detail so the frontend can prompt for manual input.
func writeErr(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = nil
	}

	if ae != nil && ae.Kind == apperr.Unresolved {
		writeJSON(w, status, map[string]any{
			"detail": map[string]any{
				"message":      ae.Message,
				"nitDetected":  nullable(ae.NitDetected),
				"ocfeDetected": nullable(ae.OcfeDetected),
			},
		})
		return
	}

	msg := "error interno"
	if ae != nil {
		msg = ae.Message
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, map[string]any{"detail": msg})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.BadInput, "cuerpo JSON inválido", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
