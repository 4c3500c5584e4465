package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ordinaut/ordinaut/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task/run lifecycle

	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "tasks_total",
		Help:      "Total tasks created, by schedule kind.",
	}, []string{"schedule_kind"})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "runs_total",
		Help:      "Total task runs finished, by outcome status.",
	}, []string{"status"})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "step_duration_seconds",
		Help:      "Duration of a single pipeline step's tool invocation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tool", "status"})

	// Queue / scheduler gauges

	DueWorkQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "due_work_queue_depth",
		Help:      "Current number of due_work rows, claimed or not.",
	})

	SchedulerLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "scheduler_lag_seconds",
		Help:      "Seconds between the earliest due firing and now.",
	})

	// Reaper metrics

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "reaper_rescued_total",
		Help:      "Total stale runs handled by the reaper, by action.",
	}, []string{"action"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerJobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "worker_runs_in_flight",
		Help:      "Number of task runs currently executing on this worker.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TasksTotal,
		RunsTotal,
		StepDuration,
		DueWorkQueueDepth,
		SchedulerLag,
		ReaperRescuedTotal,
		ReaperCycleDuration,
		WorkerStartTime,
		WorkerJobsInFlight,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer builds the metrics (and, for processes with no HTTP API of
// their own, health) endpoint. checker may be nil — cmd/server already
// exposes /health on its main router and only needs /metrics here.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if checker != nil {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, checker.Status(r.Context()))
		})
		mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
			result := checker.Readiness(r.Context())
			status := http.StatusOK
			if result.Status != "up" {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, result)
		})
		mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, checker.Liveness(r.Context()))
		})
	}

	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
