package batch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/assemble"
	"github.com/local/tipificador/internal/blob"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/invoice"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/metrics"
	"github.com/local/tipificador/internal/scratch"
	"github.com/local/tipificador/internal/textextract"
)

// ConsolidatedName is the on-disk filename of the batch-wide archive. It is
// delivered to clients under ConsolidatedDownloadName.
const (
	ConsolidatedName         = "all.zip"
	ConsolidatedDownloadName = "TIPIFICADO_LOTE.zip"
)

// Orchestrator expands multi-package archives and processes each package as
// an independent job on a per-batch background worker.
type Orchestrator struct {
	Store     *scratch.Store
	Jobs      *job.Service
	Extractor *textextract.Extractor
	Assembler *assemble.Assembler
	Blob      blob.Store
	Limits    config.LimitsConfig
	Expiry    time.Duration

	mu      sync.Mutex
	running map[string]bool
}

func NewOrchestrator(store *scratch.Store, jobs *job.Service, ex *textextract.Extractor, asm *assemble.Assembler, bs blob.Store, limits config.LimitsConfig, expiry time.Duration) *Orchestrator {
	return &Orchestrator{
		Store:     store,
		Jobs:      jobs,
		Extractor: ex,
		Assembler: asm,
		Blob:      bs,
		Limits:    limits,
		Expiry:    expiry,
		running:   make(map[string]bool),
	}
}

func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (o *Orchestrator) resultsDir(id string) string { return filepath.Join(o.Store.BatchDir(id), "results") }
func (o *Orchestrator) inputDir(id string) string   { return filepath.Join(o.Store.BatchDir(id), "input") }

// Create admits a batch from a streamed ZIP archive.
func (o *Orchestrator) Create(r io.Reader) (*Meta, error) {
	id := newID()
	dir, err := o.Store.MkBatch(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo crear el directorio del lote", err)
	}

	meta, err := o.admit(id, dir, r)
	if err != nil {
		o.Store.RemoveBatch(id)
		return nil, err
	}
	return meta, nil
}

// CreateFromBlob admits a batch whose archive was staged in the object store.
func (o *Orchestrator) CreateFromBlob(ctx context.Context, key string) (*Meta, error) {
	if o.Blob == nil {
		return nil, apperr.New(apperr.BadInput, "no hay almacenamiento de objetos configurado")
	}
	rc, err := o.Blob.Get(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "no se pudo obtener el archivo del bucket", err)
	}
	defer rc.Close()
	return o.Create(rc)
}

// UploadURL issues a pre-signed PUT for staging a batch archive, returning
// the object key to pass to CreateFromBlob.
func (o *Orchestrator) UploadURL(ctx context.Context) (key, url string, err error) {
	if o.Blob == nil {
		return "", "", apperr.New(apperr.BadInput, "no hay almacenamiento de objetos configurado")
	}
	key = fmt.Sprintf("uploads/%s.zip", newID())
	url, err = o.Blob.SignedURL(ctx, key, http.MethodPut, o.Expiry)
	if err != nil {
		return "", "", apperr.Wrap(apperr.Internal, "no se pudo firmar la URL de subida", err)
	}
	return key, url, nil
}

func (o *Orchestrator) admit(id, dir string, r io.Reader) (*Meta, error) {
	zipPath := filepath.Join(dir, "batch.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo guardar el archivo", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, o.Limits.MaxBatchBytes+1))
	f.Close()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fallo al guardar el archivo", err)
	}
	if written > o.Limits.MaxBatchBytes {
		return nil, apperr.Newf(apperr.TooLarge, "el lote supera el límite de %d MB", o.Limits.MaxBatchBytes>>20)
	}

	if err := safeExtract(zipPath, o.inputDir(id), o.Limits.MaxBatchBytes); err != nil {
		return nil, err
	}
	names, err := discoverPackages(o.inputDir(id))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, apperr.New(apperr.BadInput, "el ZIP no contiene carpetas de paquetes")
	}
	if len(names) > o.Limits.MaxBatchPackages {
		return nil, apperr.Newf(apperr.TooLarge, "máximo %d paquetes por lote", o.Limits.MaxBatchPackages)
	}

	meta := &Meta{
		BatchID:   id,
		Status:    StatusReady,
		CreatedAt: time.Now().Unix(),
	}
	for _, name := range names {
		meta.Packages = append(meta.Packages, Package{Name: name, Status: PkgPending})
	}
	if err := scratch.WriteMeta(dir, meta); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo escribir meta.json", err)
	}
	log.Info().Str("batch_id", id).Int("packages", len(names)).Msg("batch created")
	return meta, nil
}

// Get loads batch meta, reconciling statuses against on-disk results.
func (o *Orchestrator) Get(id string) (*Meta, error) {
	meta, err := o.load(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if Reconcile(meta, o.resultsDir(id)) {
		if err := scratch.WriteMeta(o.Store.BatchDir(id), meta); err != nil {
			log.Warn().Err(err).Str("batch_id", id).Msg("could not persist reconciled meta")
		}
	}
	return meta, nil
}

func (o *Orchestrator) load(id string) (*Meta, error) {
	if !scratch.ValidID(id) {
		return nil, apperr.New(apperr.NotFound, "lote no existe o expiró")
	}
	var meta Meta
	if err := scratch.ReadMeta(o.Store.BatchDir(id), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// update applies fn to the stored meta under the orchestrator lock and
// persists the result atomically.
func (o *Orchestrator) update(id string, fn func(*Meta) error) (*Meta, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	meta, err := o.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(meta); err != nil {
		return nil, err
	}
	if err := scratch.WriteMeta(o.Store.BatchDir(id), meta); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo escribir meta.json", err)
	}
	return meta, nil
}

// Start launches the batch worker. Idempotent for already-running or
// completed batches.
func (o *Orchestrator) Start(id string) (*Meta, error) {
	meta, err := o.update(id, func(m *Meta) error {
		switch m.Status {
		case StatusProcessing, StatusDone, StatusPartial:
			return nil
		case StatusCancelling, StatusCancelled:
			return apperr.New(apperr.BadInput, "el lote fue cancelado")
		}
		m.Status = StatusProcessing
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	launch := !o.running[id] && meta.Status == StatusProcessing
	if launch {
		o.running[id] = true
	}
	o.mu.Unlock()

	if launch {
		go o.run(id, func(p *Package) bool { return p.Status == PkgPending })
	}
	return meta, nil
}

// Cancel requests cooperative cancellation. A batch that never started goes
// straight to cancelled.
func (o *Orchestrator) Cancel(id string) (*Meta, error) {
	return o.update(id, func(m *Meta) error {
		switch m.Status {
		case StatusReady:
			m.Status = StatusCancelled
			for i := range m.Packages {
				if m.Packages[i].Status == PkgPending {
					m.Packages[i].Status = PkgCancelled
				}
			}
		case StatusProcessing:
			m.Status = StatusCancelling
			m.CancelRequested = true
		case StatusCancelling, StatusCancelled:
			// already on its way
		default:
			return apperr.New(apperr.BadInput, "el lote ya terminó")
		}
		return nil
	})
}

// RetryErrors re-queues error packages and relaunches the worker over them.
// Only finished batches can be retried: a running worker iterates a snapshot
// of the package list and would never pick up re-queued entries.
func (o *Orchestrator) RetryErrors(id string) (*Meta, error) {
	meta, err := o.update(id, func(m *Meta) error {
		switch m.Status {
		case StatusError, StatusPartial, StatusDone:
		default:
			return apperr.New(apperr.BadInput, "solo se puede reintentar un lote terminado")
		}
		retriable := 0
		for i := range m.Packages {
			if m.Packages[i].Status == PkgError {
				m.Packages[i].Status = PkgPending
				m.Packages[i].Error = ""
				retriable++
			}
		}
		if retriable == 0 {
			return apperr.New(apperr.BadInput, "no hay paquetes con error para reintentar")
		}
		m.Status = StatusProcessing
		m.CancelRequested = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	launch := !o.running[id]
	if launch {
		o.running[id] = true
	}
	o.mu.Unlock()

	if launch {
		go o.run(id, func(p *Package) bool { return p.Status == PkgPending })
	}
	return meta, nil
}

// run is the batch worker: serial over packages, polling the meta file for
// cancellation between units of work.
func (o *Orchestrator) run(id string, target func(*Package) bool) {
	defer func() {
		o.mu.Lock()
		delete(o.running, id)
		o.mu.Unlock()
	}()

	ctx := context.Background()
	meta, err := o.load(id)
	if err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("batch worker could not load meta")
		return
	}

	cancelled := false
	for i := range meta.Packages {
		name := meta.Packages[i].Name
		if !target(&meta.Packages[i]) {
			continue
		}

		if o.cancelRequested(id) {
			cancelled = true
			break
		}

		if _, err := o.update(id, func(m *Meta) error {
			if pkg := m.findPackage(name); pkg != nil {
				pkg.Status = PkgProcessing
			}
			return nil
		}); err != nil {
			log.Error().Err(err).Str("batch_id", id).Msg("batch worker could not update meta")
			return
		}

		result, perr := o.processPackage(ctx, id, name)
		switch {
		case perr == nil:
			metrics.IncBatchPackage("done")
			_, err = o.update(id, func(m *Meta) error {
				if pkg := m.findPackage(name); pkg != nil {
					pkg.Status = PkgDone
					pkg.JobID = result.jobID
					pkg.ResultFile = result.file
					pkg.DownloadName = result.downloadName
					pkg.Error = ""
				}
				return nil
			})
		case apperr.IsCancelled(perr):
			metrics.IncBatchPackage("cancelled")
			_, err = o.update(id, func(m *Meta) error {
				if pkg := m.findPackage(name); pkg != nil {
					pkg.Status = PkgCancelled
				}
				return nil
			})
			cancelled = true
		default:
			metrics.IncBatchPackage("error")
			log.Error().Err(perr).Str("batch_id", id).Str("package", name).Msg("package failed")
			_, err = o.update(id, func(m *Meta) error {
				if pkg := m.findPackage(name); pkg != nil {
					pkg.Status = PkgError
					pkg.Error = perr.Error()
				}
				return nil
			})
		}
		if err != nil {
			log.Error().Err(err).Str("batch_id", id).Msg("batch worker could not update meta")
			return
		}
		if cancelled {
			break
		}
	}

	o.finish(ctx, id, cancelled)
}

func (o *Orchestrator) cancelRequested(id string) bool {
	meta, err := o.load(id)
	if err != nil {
		return false
	}
	return meta.CancelRequested
}

// finish marks leftover packages, consolidates results and derives the final
// batch status.
func (o *Orchestrator) finish(ctx context.Context, id string, cancelled bool) {
	meta, err := o.update(id, func(m *Meta) error {
		if cancelled || m.CancelRequested {
			for i := range m.Packages {
				if m.Packages[i].Status == PkgPending || m.Packages[i].Status == PkgProcessing {
					m.Packages[i].Status = PkgCancelled
				}
			}
			m.Status = StatusCancelled
			return nil
		}
		var done, errored int
		for _, pkg := range m.Packages {
			switch pkg.Status {
			case PkgDone:
				done++
			case PkgError:
				errored++
			}
		}
		switch {
		case errored > 0 && done > 0:
			m.Status = StatusPartial
		case errored > 0:
			m.Status = StatusError
		default:
			m.Status = StatusDone
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("batch worker could not finalize meta")
		return
	}

	if err := o.consolidate(meta); err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("consolidation failed")
	}
	o.uploadResults(ctx, meta)
	log.Info().Str("batch_id", id).Str("status", meta.Status).Msg("batch finished")
}

type packageResult struct {
	jobID        string
	file         string
	downloadName string
}

// processPackage builds a job from the package's PDFs and runs the full
// pipeline with per-page work kept serial.
func (o *Orchestrator) processPackage(ctx context.Context, batchID, name string) (packageResult, error) {
	pkgDir := filepath.Join(o.inputDir(batchID), name)
	paths, err := packagePDFs(pkgDir)
	if err != nil {
		return packageResult{}, err
	}
	if len(paths) == 0 {
		return packageResult{}, apperr.New(apperr.BadInput, "el paquete no contiene PDFs")
	}

	sources := make([]job.Source, 0, len(paths))
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return packageResult{}, apperr.Wrap(apperr.Internal, "no se pudo abrir el PDF", err)
		}
		files = append(files, f)
		sources = append(sources, job.Source{Name: filepath.Base(p), Reader: f})
	}

	jobMeta, err := o.Jobs.Create(sources)
	if err != nil {
		return packageResult{}, err
	}
	defer o.Jobs.Remove(jobMeta.JobID)
	jobDir := o.Store.JobDir(jobMeta.JobID)

	cancel := func() bool { return o.cancelRequested(batchID) }
	cats, err := o.Extractor.AutoClassify(ctx, jobMeta, jobDir, 1, cancel)
	if err != nil {
		return packageResult{jobID: jobMeta.JobID}, err
	}

	byCat := assemble.PagesFromAuto(cats)

	resultFile := name + ".zip"
	outPath := filepath.Join(o.resultsDir(batchID), resultFile)
	out, err := os.Create(outPath)
	if err != nil {
		return packageResult{}, apperr.Wrap(apperr.Internal, "no se pudo crear el resultado", err)
	}
	md, err := o.Assembler.Process(jobMeta, jobDir, byCat, invoice.Overrides{}, out)
	out.Close()
	if err != nil {
		os.Remove(outPath)
		return packageResult{jobID: jobMeta.JobID}, err
	}

	return packageResult{
		jobID:        jobMeta.JobID,
		file:         resultFile,
		downloadName: assemble.DownloadName(md),
	}, nil
}

// consolidate builds all.zip from every done package's artifact, stored under
// its download name. Two packages resolving to the same invoice would collide
// on download name, so duplicates get the package name appended.
func (o *Orchestrator) consolidate(meta *Meta) error {
	var entries [][2]string
	used := make(map[string]bool)
	for _, pkg := range meta.Packages {
		if pkg.Status != PkgDone || pkg.ResultFile == "" {
			continue
		}
		entryName := pkg.DownloadName
		if entryName == "" {
			entryName = pkg.ResultFile
		}
		if used[entryName] {
			entryName = strings.TrimSuffix(entryName, ".zip") + "_" + pkg.Name + ".zip"
		}
		used[entryName] = true
		entries = append(entries, [2]string{entryName, filepath.Join(o.resultsDir(meta.BatchID), pkg.ResultFile)})
	}
	if len(entries) == 0 {
		return nil
	}
	return writeZip(filepath.Join(o.resultsDir(meta.BatchID), ConsolidatedName), entries)
}

// uploadResults mirrors per-package artifacts and all.zip to the blob store
// when one is configured.
func (o *Orchestrator) uploadResults(ctx context.Context, meta *Meta) {
	if o.Blob == nil {
		return
	}
	upload := func(file string) {
		path := filepath.Join(o.resultsDir(meta.BatchID), file)
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()
		key := fmt.Sprintf("batches/%s/%s", meta.BatchID, file)
		if err := o.Blob.Put(ctx, key, f, "application/zip"); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("blob upload failed")
		}
	}
	for _, pkg := range meta.Packages {
		if pkg.Status == PkgDone && pkg.ResultFile != "" {
			upload(pkg.ResultFile)
		}
	}
	upload(ConsolidatedName)
}

// DownloadURL signs a GET for a batch artifact when a blob store is
// configured; empty string means serve from disk.
func (o *Orchestrator) DownloadURL(ctx context.Context, batchID, file string) string {
	if o.Blob == nil {
		return ""
	}
	key := fmt.Sprintf("batches/%s/%s", batchID, file)
	url, err := o.Blob.SignedURL(ctx, key, http.MethodGet, o.Expiry)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("could not sign download URL")
		return ""
	}
	return url
}
