package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/health"
	"github.com/prometheus/client_golang/prometheus"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockHeartbeats struct {
	fresh int
	err   error
}

func (m *mockHeartbeats) FreshCount(_ context.Context, _ time.Duration) (int, error) {
	return m.fresh, m.err
}

func newTestChecker(db health.Pinger, heart health.HeartbeatReader, opts ...health.Option) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(db, heart, 30*time.Second, logger, reg, opts...), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("db down")}, &mockHeartbeats{})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
}

func TestReadiness_UpWhenDBReachableAndHeartbeatFresh(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockHeartbeats{fresh: 1})

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
}

func TestReadiness_DownWhenNoFreshHeartbeat(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockHeartbeats{fresh: 0})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
}

func TestReadiness_DownWhenDBUnreachable(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("connection refused")}, &mockHeartbeats{fresh: 5})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
}

func TestStatus_AllComponentsUp(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockHeartbeats{fresh: 2},
		health.WithRedis(&mockPinger{}),
		health.WithSchedulerLag(time.Minute, func(context.Context) (float64, bool) { return 1, true }),
	)

	result := c.Status(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s: %+v", result.Status, result.Components)
	}

	names := map[string]string{}
	for _, comp := range result.Components {
		names[comp.Name] = comp.Status
	}
	for _, want := range []string{"database", "redis", "scheduler", "workers"} {
		if names[want] != "up" {
			t.Fatalf("expected component %q up, got %q", want, names[want])
		}
	}
}

func TestStatus_DegradedWhenDatabaseDown(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("down")}, &mockHeartbeats{fresh: 1})

	result := c.Status(context.Background())
	if result.Status != "degraded" {
		t.Fatalf("expected status degraded, got %s", result.Status)
	}
}

func TestStatus_DegradedWhenSchedulerLagHigh(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockHeartbeats{fresh: 1},
		health.WithSchedulerLag(time.Second, func(context.Context) (float64, bool) { return 120, true }),
	)

	result := c.Status(context.Background())
	if result.Status != "degraded" {
		t.Fatalf("expected status degraded, got %s", result.Status)
	}
}

func TestStatus_NoRedisComponentWhenNotConfigured(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockHeartbeats{fresh: 1})

	result := c.Status(context.Background())
	for _, comp := range result.Components {
		if comp.Name == "redis" {
			t.Fatal("expected no redis component when not configured")
		}
	}
}
