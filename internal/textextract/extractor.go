package textextract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
	"github.com/local/tipificador/internal/classify"
	"github.com/local/tipificador/internal/config"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/metrics"
	"github.com/local/tipificador/internal/ocr"
)

// Cancel is a cooperative predicate polled at tier boundaries and between
// page loops. Returning true aborts with a Cancelled error.
type Cancel func() bool

func never() bool { return false }

// Extractor derives classification text per page through three tiers:
// embedded text, header-band OCR, full-page OCR. Each tier short-circuits
// when its output is good enough and caches what it produced.
type Extractor struct {
	Jobs *job.Service
	Ocr  ocr.Engine
	Cfg  config.OCRConfig
}

func NewExtractor(jobs *job.Service, engine ocr.Engine, cfg config.OCRConfig) *Extractor {
	return &Extractor{Jobs: jobs, Ocr: engine, Cfg: cfg}
}

func (e *Extractor) ocrUsable() bool { return e.Cfg.Enabled && e.Ocr.Available() }

// TextForClassification returns the cheapest text that classifies page g.
func (e *Extractor) TextForClassification(ctx context.Context, meta *job.Meta, dir string, g int, cancel Cancel) (string, error) {
	if cancel == nil {
		cancel = never
	}
	if cancel() {
		return "", apperr.New(apperr.Cancelled, "clasificación cancelada")
	}

	embedded, err := e.Jobs.EmbeddedText(meta, dir, g)
	if err != nil {
		return "", err
	}
	useful := len(strings.TrimSpace(embedded)) >= e.Cfg.MinTextLen
	if useful {
		if _, strong := classify.Match(embedded, false); strong {
			return embedded, nil
		}
	}

	if !e.ocrUsable() {
		// Nothing better available, classify on whatever the PDF embeds.
		return embedded, nil
	}
	if cancel() {
		return "", apperr.New(apperr.Cancelled, "clasificación cancelada")
	}

	headText, err := e.headerOCR(ctx, meta, dir, g)
	if err != nil {
		if apperr.IsCancelled(err) || ctx.Err() != nil {
			return "", err
		}
		log.Warn().Err(err).Int("page", g).Msg("header OCR failed")
		headText = ""
	}
	if _, strong := classify.Match(headText, false); strong {
		return headText, nil
	}
	if useful {
		return embedded, nil
	}
	if cancel() {
		return "", apperr.New(apperr.Cancelled, "clasificación cancelada")
	}

	fullText, err := e.fullOCR(ctx, meta, dir, g, false)
	if err != nil {
		if apperr.IsCancelled(err) || ctx.Err() != nil {
			return "", err
		}
		log.Warn().Err(err).Int("page", g).Msg("full OCR failed")
		return embedded, nil
	}
	return fullText, nil
}

// FullText serves the ocr.txt endpoint. refresh bypasses the cache.
func (e *Extractor) FullText(ctx context.Context, meta *job.Meta, dir string, g int, refresh bool) (string, error) {
	if !e.Cfg.Enabled {
		return "", apperr.New(apperr.OcrDisabled, "OCR deshabilitado en este despliegue")
	}
	if !e.Ocr.Available() {
		return "", apperr.New(apperr.OcrDisabled, "motor OCR no disponible")
	}
	if refresh {
		_ = os.Remove(job.OcrPath(dir, g))
	}
	return e.fullOCR(ctx, meta, dir, g, refresh)
}

func (e *Extractor) headerOCR(ctx context.Context, meta *job.Meta, dir string, g int) (string, error) {
	cachePath := job.OcrHeadPath(dir, g)
	if data, err := os.ReadFile(cachePath); err == nil {
		return string(data), nil
	}
	ref, err := e.Jobs.PageRef(meta, dir, g)
	if err != nil {
		return "", err
	}

	start := time.Now()
	png, err := e.Jobs.Engine.RenderDPI(ref.Path, ref.Page, e.Cfg.HeaderDPI, e.Cfg.HeaderRatio)
	if err != nil {
		metrics.ObserveOCR("header", "render_error", time.Since(start))
		return "", err
	}
	text, err := e.recognize(ctx, dir, g, "head", png)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveOCR("header", result, time.Since(start))
	if err != nil {
		return "", err
	}
	if werr := os.WriteFile(cachePath, []byte(text), 0o644); werr != nil {
		log.Warn().Err(werr).Int("page", g).Msg("could not persist header OCR cache")
	}
	return text, nil
}

func (e *Extractor) fullOCR(ctx context.Context, meta *job.Meta, dir string, g int, refresh bool) (string, error) {
	cachePath := job.OcrPath(dir, g)
	if !refresh {
		if data, err := os.ReadFile(cachePath); err == nil {
			return string(data), nil
		}
	}
	ref, err := e.Jobs.PageRef(meta, dir, g)
	if err != nil {
		return "", err
	}

	start := time.Now()
	png, err := e.Jobs.Engine.RenderDPI(ref.Path, ref.Page, e.Cfg.DPI, 0)
	if err != nil {
		metrics.ObserveOCR("full", "render_error", time.Since(start))
		return "", err
	}
	text, err := e.recognize(ctx, dir, g, "full", png)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveOCR("full", result, time.Since(start))
	if err != nil {
		return "", err
	}
	if werr := os.WriteFile(cachePath, []byte(text), 0o644); werr != nil {
		log.Warn().Err(werr).Int("page", g).Msg("could not persist OCR cache")
	}
	return text, nil
}

// recognize writes the rendered PNG next to the cache, runs the engine on it
// and removes the image afterwards unless artifacts are kept for debugging.
func (e *Extractor) recognize(ctx context.Context, dir string, g int, tag string, png []byte) (string, error) {
	imgPath := fmt.Sprintf("%s/cache/ocr_input_%d_%s.png", dir, g, tag)
	if err := os.WriteFile(imgPath, png, 0o644); err != nil {
		return "", fmt.Errorf("write OCR input image: %w", err)
	}
	text, err := e.Ocr.Recognize(ctx, imgPath)
	if err == nil && !e.Cfg.KeepArtifacts {
		_ = os.Remove(imgPath)
	}
	return text, err
}
