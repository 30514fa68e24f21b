package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/local/tipificador/internal/assemble"
    "github.com/local/tipificador/internal/batch"
    "github.com/local/tipificador/internal/blob"
    cfgpkg "github.com/local/tipificador/internal/config"
    "github.com/local/tipificador/internal/httpapi"
    "github.com/local/tipificador/internal/job"
    logpkg "github.com/local/tipificador/internal/logger"
    "github.com/local/tipificador/internal/metrics"
    "github.com/local/tipificador/internal/ocr"
    "github.com/local/tipificador/internal/pdfengine"
    "github.com/local/tipificador/internal/scratch"
    "github.com/local/tipificador/internal/textextract"
)

func main() {
    _ = godotenv.Load()
    cfg := cfgpkg.FromEnv()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Level: cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: cfg.Logging.File,
        MaxSizeMB: cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress: cfg.Logging.Compress,
        SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey: cfg.Axiom.APIKey,
        AxiomOrgID: cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush: cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()

    metrics.Init()

    store, err := scratch.New(cfg.Storage.Root)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to prepare scratch root")
    }

    engine := pdfengine.NewFitz()

    var ocrEngine ocr.Engine
    if cfg.OCR.Enabled {
        tess := ocr.NewTesseract(cfg.OCR.Lang, cfg.OCR.PSM)
        if !tess.Available() {
            log.Warn().Msg("tesseract not available, OCR tiers will fall back to embedded text")
        }
        ocrEngine = tess
    } else {
        ocrEngine = ocr.Disabled{}
    }

    ctx := context.Background()
    blobStore, err := blob.Open(ctx, cfg.Blob)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to init blob store")
    }

    jobs := job.NewService(store, engine, cfg.Limits, cfg.Render)
    extractor := textextract.NewExtractor(jobs, ocrEngine, cfg.OCR)
    assembler := assemble.New(jobs)
    batches := batch.NewOrchestrator(store, jobs, extractor, assembler, blobStore, cfg.Limits, cfg.Blob.SignedURLExpiry)

    api := httpapi.New(jobs, extractor, assembler, batches, store, cfg)
    mux := http.NewServeMux()
    api.RegisterRoutes(mux)
    mux.Handle("GET /metrics", metrics.Handler())

    // Background TTL sweeper, in addition to the opportunistic sweep on new work
    sweepStop := make(chan struct{})
    go func() {
        ticker := time.NewTicker(1 * time.Hour)
        defer ticker.Stop()
        for {
            select {
            case <-ticker.C:
                store.Sweep(cfg.Storage.JobTTL)
            case <-sweepStop:
                return
            }
        }
    }()
    defer close(sweepStop)

    port := os.Getenv("PORT")
    if port == "" { port = "8080" }
    srv := &http.Server{Addr: ":"+port, Handler: httpapi.CORS(mux)}

    go func(){
        log.Info().Msgf("HTTP server listening on :%s", port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    fmt.Println("shutdown complete")
}
