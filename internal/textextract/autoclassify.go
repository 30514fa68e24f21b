package textextract

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/tipificador/internal/classify"
	"github.com/local/tipificador/internal/job"
	"github.com/local/tipificador/internal/metrics"
)

// AutoClassify extracts text for every page and produces a complete
// classification. workers bounds per-page parallelism; the on-disk cache
// deduplicates repeated tiers across retries. Pass workers=1 inside batch
// processing, which already parallelises across packages.
func (e *Extractor) AutoClassify(ctx context.Context, meta *job.Meta, dir string, workers int, cancel Cancel) (map[int]classify.Category, error) {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	texts := make(map[int]string, meta.TotalPages)
	strong := make(map[int]classify.Category)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)

	for g := 0; g < meta.TotalPages; g++ {
		g := g
		grp.Go(func() error {
			text, err := e.TextForClassification(gctx, meta, dir, g, cancel)
			if err != nil {
				return err
			}
			mu.Lock()
			texts[g] = text
			if cat, ok := classify.Match(text, false); ok {
				strong[g] = cat
			}
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	result := classify.Propagate(texts, strong, meta.PdfGroups())
	for _, cat := range result {
		metrics.IncClassified(string(cat))
	}
	log.Info().Str("job_id", meta.JobID).Int("pages", meta.TotalPages).Int("strong", len(strong)).Msg("auto-classify done")
	return result, nil
}
