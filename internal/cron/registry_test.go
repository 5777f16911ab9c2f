package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryDueFollowsEachJobsCadence(t *testing.T) {
	registry := NewRegistry()
	expiry := &stubJob{name: "purchase_expiry"}
	purge := &stubJob{name: "purchase_purge"}
	registry.Register(expiry, time.Hour)
	registry.Register(purge, 24*time.Hour)
	registry.Register(nil, time.Hour)
	require.Equal(t, 2, registry.Len())

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, []Job{expiry, purge}, registry.Due(start))

	registry.Completed("purchase_expiry", start)
	registry.Completed("purchase_purge", start)
	require.Empty(t, registry.Due(start.Add(59*time.Minute)))
	require.Equal(t, []Job{expiry}, registry.Due(start.Add(time.Hour)))
	require.Equal(t, []Job{expiry, purge}, registry.Due(start.Add(24*time.Hour)))
}

func TestRegistryIntervalDefaults(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubJob{name: "outbox_retention"}, 0)

	every, ok := registry.Interval("outbox_retention")
	require.True(t, ok)
	require.Equal(t, defaultInterval, every)

	_, ok = registry.Interval("missing")
	require.False(t, ok)
}
