package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(typ events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// harness wires every service the way serve does, on a private database and a manual clock
type harness struct {
	ctx        context.Context
	db         *gorm.DB
	clock      *testhelpers.Clock
	published  *recordingPublisher
	notifier   *testhelpers.RecordingNotifier
	lifecycle  *LifecycleService
	sla        *SLATracker
	policies   *PolicyService
	oncall     *OnCallService
	contacts   *ContactService
	grouping   *GroupingService
	escalation *EscalationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	clock := testhelpers.NewClock(t0)
	pub := &recordingPublisher{}
	opts := []Option{WithClock(clock.Now), WithPublisher(pub)}

	h := &harness{
		ctx:       context.Background(),
		db:        db,
		clock:     clock,
		published: pub,
		notifier:  testhelpers.NewRecordingNotifier(),
		lifecycle: NewLifecycleService(db, opts...),
		sla:       NewSLATracker(db, opts...),
		policies:  NewPolicyService(db, time.Minute),
		oncall:    NewOnCallService(db, time.Minute, opts...),
		contacts:  NewContactService(db),
	}
	h.grouping = NewGroupingService(db, h.lifecycle, opts...)
	h.escalation = NewEscalationService(db, h.policies, h.oncall, h.contacts, h.notifier, "https://alerts.example.com/", opts...)

	h.lifecycle.AddObserver(h.sla)
	h.lifecycle.AddObserver(h.escalation)
	h.lifecycle.AddObserver(h.grouping)
	return h
}

func (h *harness) createAlert(t *testing.T, sev database.Severity) *database.Alert {
	t.Helper()
	alert, err := h.lifecycle.CreateAlert(h.ctx, NewAlert{
		DeviceID: "router-1",
		Metric:   "cpu_usage",
		Severity: sev,
		Message:  "CPU above 95%",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	return alert
}

func (h *harness) transition(t *testing.T, alertID uint, target database.AlertState) {
	t.Helper()
	actor := "alice"
	if _, err := h.lifecycle.Transition(h.ctx, alertID, target, &actor, "", nil); err != nil {
		t.Fatalf("Transition(%d -> %s): %v", alertID, target, err)
	}
}

func (h *harness) reload(t *testing.T, alertID uint) *database.Alert {
	t.Helper()
	alert, err := h.lifecycle.GetAlert(h.ctx, alertID)
	if err != nil {
		t.Fatalf("GetAlert(%d): %v", alertID, err)
	}
	return alert
}

func (h *harness) updateSettings(t *testing.T, fn func(*database.EngineSettings)) {
	t.Helper()
	settings, err := database.GetOrCreateEngineSettings(h.db)
	if err != nil {
		t.Fatalf("GetOrCreateEngineSettings: %v", err)
	}
	fn(settings)
	if err := database.UpdateEngineSettings(h.db, settings); err != nil {
		t.Fatalf("UpdateEngineSettings: %v", err)
	}
}

func (h *harness) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
