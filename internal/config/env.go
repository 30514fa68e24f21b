package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// StorageConfig defines the on-disk scratch layout and lifecycle.
type StorageConfig struct {
    Root   string
    JobTTL time.Duration
}

// LimitsConfig defines upload and batch admission limits.
type LimitsConfig struct {
    MaxFileBytes     int64
    MaxFilesPerJob   int
    MaxBatchPackages int
    MaxBatchBytes    int64
}

// OCRConfig defines the tesseract invocation and tier thresholds.
type OCRConfig struct {
    Enabled       bool
    Lang          string
    DPI           int
    HeaderDPI     int
    HeaderRatio   float64
    PSM           int
    MinTextLen    int
    KeepArtifacts bool
}

// RenderConfig defines page rendering widths and caching.
type RenderConfig struct {
    ThumbWidth int
    ViewWidth  int
    ViewCache  bool
}

// WorkerConfig defines auto-classify concurrency.
type WorkerConfig struct {
    ClassifyWorkers int
}

// BlobConfig defines the optional object-store delivery backend.
type BlobConfig struct {
    Backend         string // "", "s3" or "gcs"
    Bucket          string
    Prefix          string
    SignedURLExpiry time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging LoggingConfig
    Axiom   AxiomConfig
    Storage StorageConfig
    Limits  LimitsConfig
    OCR     OCRConfig
    Render  RenderConfig
    Worker  WorkerConfig
    Blob    BlobConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/tipificador.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_tipificador",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.Storage = StorageConfig{
        Root:   getEnv("TIPIFICADOR_JOB_ROOT", "/tmp/tipificador_jobs"),
        JobTTL: parseDuration(getEnv("JOB_TTL", "24h"), 24*time.Hour),
    }

    cfg.Limits = LimitsConfig{
        MaxFileBytes:     int64(parseInt(getEnv("MAX_FILE_MB", "50"), 50)) << 20,
        MaxFilesPerJob:   parseInt(getEnv("MAX_FILES_PER_JOB", "30"), 30),
        MaxBatchPackages: parseInt(getEnv("MAX_BATCH_PACKAGES", "100"), 100),
        MaxBatchBytes:    int64(parseInt(getEnv("MAX_BATCH_MB", "1024"), 1024)) << 20,
    }

    dpi := parseInt(getEnv("OCR_DPI", "300"), 300)
    headerDPI := parseInt(getEnv("OCR_HEADER_DPI", ""), 0)
    if headerDPI <= 0 {
        headerDPI = 200
        if dpi < headerDPI { headerDPI = dpi }
    }
    cfg.OCR = OCRConfig{
        Enabled:       parseBool(getEnv("OCR_ENABLED", "true")),
        Lang:          getEnv("OCR_LANG", "spa+eng"),
        DPI:           dpi,
        HeaderDPI:     headerDPI,
        HeaderRatio:   parseFloat(getEnv("OCR_HEADER_RATIO", "0.35"), 0.35),
        PSM:           parseInt(getEnv("OCR_PSM", "6"), 6),
        MinTextLen:    parseInt(getEnv("OCR_MIN_TEXT_LEN", "80"), 80),
        KeepArtifacts: parseBool(getEnv("OCR_KEEP_ARTIFACTS", "0")),
    }

    cfg.Render = RenderConfig{
        ThumbWidth: parseInt(getEnv("THUMB_WIDTH", "240"), 240),
        ViewWidth:  parseInt(getEnv("VIEW_WIDTH", "1100"), 1100),
        ViewCache:  parseBool(getEnv("VIEW_CACHE", "true")),
    }

    cfg.Worker = WorkerConfig{
        ClassifyWorkers: parseInt(getEnv("CLASSIFY_WORKERS", "4"), 4),
    }

    cfg.Blob = BlobConfig{
        Backend:         strings.ToLower(getEnv("BLOB_BACKEND", "")),
        Bucket:          getEnv("BLOB_BUCKET", ""),
        Prefix:          getEnv("BLOB_PREFIX", "tipificador"),
        SignedURLExpiry: parseDuration(getEnv("SIGNED_URL_EXPIRY", "15m"), 15*time.Minute),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
