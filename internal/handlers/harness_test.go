package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/alerts/adapters"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/services"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	db       *gorm.DB
	clock    *testhelpers.Clock
	notifier *testhelpers.RecordingNotifier
	metrics  *metrics.Metrics
	svc      Services
	alerts   *AlertHandler
	mux      *http.ServeMux
}

// newFixture wires real services over an in-memory database behind the
// public and API routes. Auth is off unless authEnabled is set.
func newFixture(t *testing.T, authEnabled bool) *fixture {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	clock := testhelpers.NewClock(t0)
	m := metrics.New()
	opts := []services.Option{services.WithClock(clock.Now), services.WithMetrics(m)}

	lifecycle := services.NewLifecycleService(db, opts...)
	sla := services.NewSLATracker(db, opts...)
	policies := services.NewPolicyService(db, time.Minute)
	oncall := services.NewOnCallService(db, time.Minute, opts...)
	contacts := services.NewContactService(db)
	grouping := services.NewGroupingService(db, lifecycle, opts...)
	notifier := testhelpers.NewRecordingNotifier()
	escalation := services.NewEscalationService(db, policies, oncall, contacts, notifier,
		"https://alerts.example.com/", opts...)
	lifecycle.AddObserver(sla)
	lifecycle.AddObserver(escalation)
	lifecycle.AddObserver(grouping)

	f := &fixture{
		ctx:      context.Background(),
		db:       db,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
		svc: Services{
			Lifecycle:  lifecycle,
			SLA:        sla,
			Grouping:   grouping,
			Escalation: escalation,
			Policies:   policies,
			OnCall:     oncall,
			Contacts:   contacts,
			Sources:    services.NewAlertSourceService(db),
		},
		mux: http.NewServeMux(),
	}

	f.alerts = NewAlertHandler(f.svc.Sources, grouping, m)
	f.alerts.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	NewHTTPHandler(f.alerts, m.Handler(), func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}).SetupRoutes(f.mux)
	NewAPIHandler(db, f.svc, nil, authEnabled).SetupRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *testhelpers.HTTPTestContext {
	t.Helper()
	ctx := testhelpers.NewHTTPTestContext(t, method, path, nil)
	if body != nil {
		ctx.WithJSONBody(body)
	}
	return ctx.Execute(f.mux)
}

func (f *fixture) source(t *testing.T, sourceType, secret string) *database.AlertSourceInstance {
	t.Helper()
	inst, err := f.svc.Sources.CreateInstance(f.ctx, sourceType, sourceType+"-test", "", secret, nil)
	require.NoError(t, err)
	return inst
}
