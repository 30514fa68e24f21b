package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    jobsCreated = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "tipificador",
            Name:      "jobs_created_total",
            Help:      "Total jobs admitted",
        },
    )

    pagesClassified = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "tipificador",
            Name:      "pages_classified_total",
            Help:      "Pages classified by category",
        },
        []string{"category"},
    )

    ocrRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "tipificador",
            Name:      "ocr_runs_total",
            Help:      "OCR extractor invocations by tier (embedded, header, full) and result",
        },
        []string{"tier", "result"},
    )

    ocrLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "tipificador",
            Name:      "ocr_duration_seconds",
            Help:      "Duration of OCR invocations by tier",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"tier"},
    )

    batchPackages = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "tipificador",
            Name:      "batch_packages_total",
            Help:      "Batch packages processed by result (done, error, cancelled)",
        },
        []string{"result"},
    )

    assemblies = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "tipificador",
            Name:      "assemblies_total",
            Help:      "Assembly runs by result",
        },
        []string{"result"},
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(jobsCreated, pagesClassified, ocrRuns, ocrLatency, batchPackages, assemblies)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncJobCreated() { jobsCreated.Inc() }

func IncClassified(category string) { pagesClassified.WithLabelValues(category).Inc() }

func ObserveOCR(tier, result string, dur time.Duration) {
    ocrRuns.WithLabelValues(tier, result).Inc()
    ocrLatency.WithLabelValues(tier).Observe(dur.Seconds())
}

func IncBatchPackage(result string) { batchPackages.WithLabelValues(result).Inc() }
func IncAssembly(result string)     { assemblies.WithLabelValues(result).Inc() }
