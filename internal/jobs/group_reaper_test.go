package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/services"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newReaperFixture(t *testing.T) (*GroupReaper, *services.GroupingService, *testhelpers.Clock, *metrics.Metrics) {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	clock := testhelpers.NewClock(start)
	m := metrics.New()
	opts := []services.Option{services.WithClock(clock.Now), services.WithMetrics(m)}

	lifecycle := services.NewLifecycleService(db, opts...)
	grouping := services.NewGroupingService(db, lifecycle, opts...)
	lifecycle.AddObserver(grouping)

	return NewGroupReaper(db, grouping, m), grouping, clock, m
}

func submit(t *testing.T, g *services.GroupingService, device string, at time.Time) {
	t.Helper()
	_, err := g.SubmitAlert(context.Background(), services.RawAlert{
		DeviceID:   device,
		Metric:     "cpu_usage",
		Severity:   database.SeverityHigh,
		Message:    "cpu above 90%",
		OccurredAt: at,
	})
	require.NoError(t, err)
}

func TestGroupReaper_ClosesStaleGroups(t *testing.T) {
	reaper, grouping, clock, m := newReaperFixture(t)
	ctx := context.Background()

	submit(t, grouping, "router-1", start)
	clock.Set(start.Add(14 * time.Minute))
	submit(t, grouping, "router-2", start.Add(14*time.Minute))

	clock.Set(start.Add(16 * time.Minute))
	closed, err := reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed, "only router-1 has been quiet longer than the window")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveGroups))

	clock.Set(start.Add(time.Hour))
	closed, err = reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveGroups))

	closed, err = reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestGroupReaper_UsesSettingsWindow(t *testing.T) {
	reaper, grouping, clock, _ := newReaperFixture(t)
	ctx := context.Background()

	settings, err := database.GetOrCreateEngineSettings(reaper.db)
	require.NoError(t, err)
	settings.GroupWindowMinutes = 60
	require.NoError(t, database.UpdateEngineSettings(reaper.db, settings))

	submit(t, grouping, "router-1", start)
	clock.Set(start.Add(30 * time.Minute))

	closed, err := reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed, "30 minutes is inside a 60 minute window")

	clock.Set(start.Add(61 * time.Minute))
	closed, err = reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestGroupReaper_DisabledOnlyRefreshesGauge(t *testing.T) {
	reaper, grouping, clock, m := newReaperFixture(t)
	ctx := context.Background()

	settings, err := database.GetOrCreateEngineSettings(reaper.db)
	require.NoError(t, err)
	settings.ReaperEnabled = false
	require.NoError(t, database.UpdateEngineSettings(reaper.db, settings))

	submit(t, grouping, "router-1", start)
	clock.Set(start.Add(time.Hour))

	closed, err := reaper.CheckAndClose(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveGroups))
}

func TestGroupReaper_StartStops(t *testing.T) {
	reaper, _, _, _ := newReaperFixture(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		reaper.Start(5*time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
