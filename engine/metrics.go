package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeRasterized  = "rasterized"
	outcomePlaceholder = "placeholder"
	outcomeFailed      = "failed"
)

var (
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfcarousel",
		Name:      "conversions_total",
		Help:      "Finished conversions by outcome.",
	}, []string{"outcome"})

	pagesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pdfcarousel",
		Name:      "pages_rendered_total",
		Help:      "Pages rasterized into preview images.",
	})

	conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pdfcarousel",
		Name:      "conversion_duration_seconds",
		Help:      "Time from processing to a terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})

	conversionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pdfcarousel",
		Name:      "conversions_in_flight",
		Help:      "Conversions currently running.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pdfcarousel",
		Name:      "conversion_queue_depth",
		Help:      "Documents waiting in the conversion queue.",
	})
)
