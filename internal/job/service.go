package job

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/metrics"
	"github.com/local/tipificador/internal/pdfengine"
	"github.com/local/tipificador/internal/scratch"
)

// Source is one uploaded PDF, streamed during admission.
type Source struct {
	Name   string
	Reader io.Reader
}

// Service admits jobs and serves their derived artifacts.
type Service struct {
	Store  *scratch.Store
	Engine pdfengine.Engine
	Limits config.LimitsConfig
	Render config.RenderConfig
}

func NewService(store *scratch.Store, engine pdfengine.Engine, limits config.LimitsConfig, render config.RenderConfig) *Service {
	return &Service{Store: store, Engine: engine, Limits: limits, Render: render}
}

func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Create streams the uploads into a fresh job directory, validates each file
// and builds the page map. Any failure removes the partial directory.
func (s *Service) Create(sources []Source) (*Meta, error) {
	if len(sources) == 0 {
		return nil, apperr.New(apperr.BadInput, "se requiere al menos un PDF")
	}
	if len(sources) > s.Limits.MaxFilesPerJob {
		return nil, apperr.Newf(apperr.TooLarge, "máximo %d archivos por trabajo", s.Limits.MaxFilesPerJob)
	}

	id := newID()
	dir, err := s.Store.MkJob(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "no se pudo crear el directorio del trabajo", err)
	}

	meta, err := s.admit(id, dir, sources)
	if err != nil {
		s.Store.RemoveJob(id)
		return nil, err
	}
	if err := scratch.WriteMeta(dir, meta); err != nil {
		s.Store.RemoveJob(id)
		return nil, apperr.Wrap(apperr.Internal, "no se pudo escribir meta.json", err)
	}

	metrics.IncJobCreated()
	log.Info().Str("job_id", id).Int("files", meta.Files).Int("total_pages", meta.TotalPages).Msg("job created")
	return meta, nil
}

func (s *Service) admit(id, dir string, sources []Source) (*Meta, error) {
	meta := &Meta{
		JobID:     id,
		Files:     len(sources),
		CreatedAt: time.Now().Unix(),
		PageMap:   [][2]int{},
	}

	for i, src := range sources {
		path := SourcePath(dir, i)
		written, err := streamToFile(src.Reader, path, s.Limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		if written == 0 {
			return nil, apperr.Newf(apperr.BadInput, "el archivo %q está vacío", src.Name)
		}

		mt, err := mimetype.DetectFile(path)
		if err != nil || !mt.Is("application/pdf") {
			return nil, apperr.Newf(apperr.BadInput, "el archivo %q no es un PDF", src.Name)
		}
		if err := s.Engine.Validate(path); err != nil {
			return nil, apperr.Wrap(apperr.CorruptPdf, fmt.Sprintf("el PDF %q está dañado", src.Name), err)
		}

		pages, err := s.Engine.PageCount(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.CorruptPdf, fmt.Sprintf("no se pudo leer %q", src.Name), err)
		}
		for p := 0; p < pages; p++ {
			meta.PageMap = append(meta.PageMap, [2]int{i, p})
		}
	}
	meta.TotalPages = len(meta.PageMap)
	return meta, nil
}

// streamToFile copies r to path, failing with TooLarge past maxBytes.
func streamToFile(r io.Reader, path string, maxBytes int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "no se pudo guardar el archivo", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "fallo al guardar el archivo", err)
	}
	if written > maxBytes {
		return 0, apperr.Newf(apperr.TooLarge, "el archivo supera el límite de %d MB", maxBytes>>20)
	}
	return written, nil
}

// Load reads a job's meta and returns it with the job directory.
func (s *Service) Load(id string) (*Meta, string, error) {
	if !scratch.ValidID(id) {
		return nil, "", apperr.New(apperr.NotFound, "job no existe o expiró")
	}
	dir := s.Store.JobDir(id)
	var meta Meta
	if err := scratch.ReadMeta(dir, &meta); err != nil {
		return nil, "", err
	}
	return &meta, dir, nil
}

// Remove deletes the job scratch.
func (s *Service) Remove(id string) { s.Store.RemoveJob(id) }

// PageRef resolves a global index into the engine's page addressing.
func (s *Service) PageRef(meta *Meta, dir string, g int) (pdfengine.PageRef, error) {
	pdfIdx, local, err := meta.Resolve(g)
	if err != nil {
		return pdfengine.PageRef{}, err
	}
	return pdfengine.PageRef{Path: SourcePath(dir, pdfIdx), Page: local}, nil
}

// Cache artifact paths, all keyed by global page index.
func ThumbPath(dir string, g int) string { return filepath.Join(dir, "cache", fmt.Sprintf("thumb_%d.png", g)) }
func ViewPath(dir string, g int) string  { return filepath.Join(dir, "cache", fmt.Sprintf("view_%d.png", g)) }
func TextPath(dir string, g int) string  { return filepath.Join(dir, "cache", fmt.Sprintf("text_%d.txt", g)) }
func OcrPath(dir string, g int) string   { return filepath.Join(dir, "cache", fmt.Sprintf("ocr_%d.txt", g)) }
func OcrHeadPath(dir string, g int) string {
	return filepath.Join(dir, "cache", fmt.Sprintf("ocr_%d_head.txt", g))
}

// Thumb returns the thumbnail PNG for page g, rendering and caching on miss.
func (s *Service) Thumb(meta *Meta, dir string, g int) ([]byte, error) {
	return s.renderCached(meta, dir, g, ThumbPath(dir, g), s.Render.ThumbWidth, true)
}

// View returns the preview PNG for page g. Persisting it is feature-flagged.
func (s *Service) View(meta *Meta, dir string, g int) ([]byte, error) {
	return s.renderCached(meta, dir, g, ViewPath(dir, g), s.Render.ViewWidth, s.Render.ViewCache)
}

func (s *Service) renderCached(meta *Meta, dir string, g int, cachePath string, width int, persist bool) ([]byte, error) {
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}
	ref, err := s.PageRef(meta, dir, g)
	if err != nil {
		return nil, err
	}
	data, err := s.Engine.RenderWidth(ref.Path, ref.Page, width)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fallo al renderizar la página", err)
	}
	if persist {
		if werr := os.WriteFile(cachePath, data, 0o644); werr != nil {
			log.Warn().Err(werr).Int("page", g).Msg("could not persist render cache")
		}
	}
	return data, nil
}

// EmbeddedText returns the raw embedded text of page g, cached as text_{g}.txt.
func (s *Service) EmbeddedText(meta *Meta, dir string, g int) (string, error) {
	cachePath := TextPath(dir, g)
	if data, err := os.ReadFile(cachePath); err == nil {
		return string(data), nil
	}
	ref, err := s.PageRef(meta, dir, g)
	if err != nil {
		return "", err
	}
	text, err := s.Engine.PageText(ref.Path, ref.Page)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "fallo al extraer texto", err)
	}
	text = strings.ReplaceAll(text, "\x00", "")
	if werr := os.WriteFile(cachePath, []byte(text), 0o644); werr != nil {
		log.Warn().Err(werr).Int("page", g).Msg("could not persist text cache")
	}
	return text, nil
}
