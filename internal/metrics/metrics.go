package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce      sync.Once
	lookupsTotal      *prometheus.CounterVec
	lookupLatency     prometheus.Histogram
	submissionsTotal  *prometheus.CounterVec
	submissionLatency prometheus.Histogram
	conversionsTotal  *prometheus.CounterVec
)

// Register initialises the collectors on the default registry.
func Register() {
	registerOnce.Do(func() {
		lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eiken_question_lookups_total",
			Help: "Question catalog lookups by outcome.",
		}, []string{"outcome"})

		lookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eiken_question_lookup_seconds",
			Help:    "Latency of question catalog lookups.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eiken_submissions_total",
			Help: "Assessment submissions by outcome.",
		}, []string{"outcome"})

		submissionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eiken_submission_seconds",
			Help:    "Latency of assessment submissions.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		})

		conversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eiken_handwriting_conversions_total",
			Help: "Handwriting conversions by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(lookupsTotal, lookupLatency, submissionsTotal, submissionLatency, conversionsTotal)
	})
}

// Lookups exposes the lookup counter.
func Lookups() *prometheus.CounterVec {
	Register()
	return lookupsTotal
}

// LookupLatency exposes the lookup latency histogram.
func LookupLatency() prometheus.Histogram {
	Register()
	return lookupLatency
}

// Submissions exposes the submission counter.
func Submissions() *prometheus.CounterVec {
	Register()
	return submissionsTotal
}

// SubmissionLatency exposes the submission latency histogram.
func SubmissionLatency() prometheus.Histogram {
	Register()
	return submissionLatency
}

// Conversions exposes the handwriting conversion counter.
func Conversions() *prometheus.CounterVec {
	Register()
	return conversionsTotal
}
