// Package health reports component-level status: GET /health lists
// {database, redis, scheduler, workers} by name/status/message; GET
// /health/ready additionally gates on the store being reachable and at
// least one fresh worker heartbeat.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool and *redis.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatReader is satisfied by repository.HeartbeatRepository's freshness
// query, kept narrow here so the health package doesn't import repository.
type HeartbeatReader interface {
	FreshCount(ctx context.Context, within time.Duration) (int, error)
}

// Component is one named dependency's health: {name, status, message}.
type Component struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Result is the top-level /health response.
type Result struct {
	Status     string      `json:"status"`
	Components []Component `json:"components"`
}

// Checker verifies that the system's dependencies are reachable and its
// background processes are making progress.
type Checker struct {
	db     Pinger
	redis  Pinger // nil when no event bus is configured
	heart  HeartbeatReader
	lagFn  func(context.Context) (float64, bool)
	maxLag float64

	heartbeatWindow time.Duration

	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// Option configures optional Checker dependencies.
type Option func(*Checker)

// WithRedis reports a "redis" component, present only when the event bus
// collaborator is configured.
func WithRedis(p Pinger) Option {
	return func(c *Checker) { c.redis = p }
}

// WithSchedulerLag reports a "scheduler" component computed from lagFn —
// typically repository.DueWorkRepository.OldestRunAt, store-driven so it
// works regardless of which process serves the health endpoint. A lag above
// maxLag is reported degraded, not down — the scheduler may simply be busy.
func WithSchedulerLag(maxLag time.Duration, lagFn func(context.Context) (float64, bool)) Option {
	return func(c *Checker) {
		c.maxLag = maxLag.Seconds()
		c.lagFn = lagFn
	}
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(db Pinger, heart HeartbeatReader, heartbeatWindow time.Duration, logger *slog.Logger, reg prometheus.Registerer, opts ...Option) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	c := &Checker{
		db:              db,
		heart:           heart,
		heartbeatWindow: heartbeatWindow,
		logger:          logger.With("component", "health"),
		gauge:           gauge,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Liveness returns a minimal "process is running" response, never touching
// any dependency.
func (c *Checker) Liveness(_ context.Context) Result {
	return Result{Status: "up"}
}

// Readiness reports up iff the store is reachable and at least one worker
// has heartbeated within 3x the heartbeat interval.
func (c *Checker) Readiness(ctx context.Context) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	dbUp := c.db.Ping(checkCtx) == nil

	fresh := 0
	if dbUp {
		n, err := c.heart.FreshCount(checkCtx, c.heartbeatWindow)
		if err == nil {
			fresh = n
		}
	}

	status := "up"
	if !dbUp || fresh == 0 {
		status = "down"
	}
	return Result{Status: status}
}

// Status runs every configured component check and reports the aggregate
// status alongside each component's own result, for GET /health.
func (c *Checker) Status(ctx context.Context) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	components := []Component{c.checkDatabase(checkCtx)}

	if c.redis != nil {
		components = append(components, c.checkPing("redis", c.redis, checkCtx))
	}
	if c.lagFn != nil {
		components = append(components, c.checkSchedulerLag(checkCtx))
	}
	components = append(components, c.checkWorkers(checkCtx))

	status := "up"
	for _, comp := range components {
		if comp.Status != "up" {
			status = "degraded"
		}
	}
	return Result{Status: status, Components: components}
}

func (c *Checker) checkDatabase(ctx context.Context) Component {
	return c.checkPing("database", c.db, ctx)
}

func (c *Checker) checkPing(name string, p Pinger, ctx context.Context) Component {
	if err := p.Ping(ctx); err != nil {
		c.logger.Warn(name+" health check failed", "error", err)
		c.gauge.WithLabelValues(name).Set(0)
		return Component{Name: name, Status: "down", Message: err.Error()}
	}
	c.gauge.WithLabelValues(name).Set(1)
	return Component{Name: name, Status: "up"}
}

func (c *Checker) checkSchedulerLag(ctx context.Context) Component {
	lag, ok := c.lagFn(ctx)
	if !ok {
		c.gauge.WithLabelValues("scheduler").Set(1)
		return Component{Name: "scheduler", Status: "up"}
	}
	if lag > c.maxLag {
		c.gauge.WithLabelValues("scheduler").Set(0)
		return Component{Name: "scheduler", Status: "degraded", Message: "scheduler_lag_seconds exceeds threshold"}
	}
	c.gauge.WithLabelValues("scheduler").Set(1)
	return Component{Name: "scheduler", Status: "up"}
}

func (c *Checker) checkWorkers(ctx context.Context) Component {
	n, err := c.heart.FreshCount(ctx, c.heartbeatWindow)
	if err != nil {
		c.gauge.WithLabelValues("workers").Set(0)
		return Component{Name: "workers", Status: "down", Message: err.Error()}
	}
	if n == 0 {
		c.gauge.WithLabelValues("workers").Set(0)
		return Component{Name: "workers", Status: "down", Message: "no worker heartbeat within window"}
	}
	c.gauge.WithLabelValues("workers").Set(1)
	return Component{Name: "workers", Status: "up"}
}
