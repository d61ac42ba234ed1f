package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSeverity_IsValid(t *testing.T) {
	for _, s := range ValidSeverities() {
		if !s.IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []Severity{"", "warning", "CRITICAL", "disaster"} {
		if s.IsValid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestAlertState_Escalating(t *testing.T) {
	tests := []struct {
		state AlertState
		want  bool
	}{
		{AlertStateNew, true},
		{AlertStateInvestigating, true},
		{AlertStateAcknowledged, false},
		{AlertStateResolved, false},
		{AlertStateUnknown, false},
	}
	for _, tt := range tests {
		if got := tt.state.Escalating(); got != tt.want {
			t.Errorf("%s.Escalating() = %v, want %v", tt.state, got, tt.want)
		}
	}
	if AlertStateUnknown.IsValid() {
		t.Error("unknown must not be storable on an event")
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		name  string
		table interface{ TableName() string }
		want  string
	}{
		{"Alert", Alert{}, "alerts"},
		{"AlertStateEvent", AlertStateEvent{}, "alert_state_events"},
		{"AlertSLA", AlertSLA{}, "alert_slas"},
		{"EscalationPolicy", EscalationPolicy{}, "escalation_policies"},
		{"OnCallSchedule", OnCallSchedule{}, "oncall_schedules"},
		{"OnCallOverride", OnCallOverride{}, "oncall_overrides"},
		{"AlertGroup", AlertGroup{}, "alert_groups"},
		{"AlertMerge", AlertMerge{}, "alert_merges"},
		{"Contact", Contact{}, "contacts"},
		{"NotificationLog", NotificationLog{}, "notification_logs"},
		{"AlertSourceInstance", AlertSourceInstance{}, "alert_source_instances"},
		{"EngineSettings", EngineSettings{}, "engine_settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.table.TableName(); got != tt.want {
				t.Errorf("TableName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAlert_BeforeCreateAssignsUUID(t *testing.T) {
	db := setupTestDB(t)

	alert := &Alert{DeviceID: "sw-01", Metric: "cpu", Severity: SeverityHigh, CreatedAt: time.Now()}
	if err := db.Create(alert).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(alert.UUID); err != nil {
		t.Errorf("expected a UUID, got %q", alert.UUID)
	}
	if alert.DuplicateCount != 1 {
		t.Errorf("expected duplicate_count 1, got %d", alert.DuplicateCount)
	}
	if alert.IsMerged() {
		t.Error("new alert must not be merged")
	}
}

func TestAlertStateEvent_SequenceIsUnique(t *testing.T) {
	db := setupTestDB(t)

	alert := &Alert{DeviceID: "sw-01", Metric: "cpu", Severity: SeverityHigh, CreatedAt: time.Now()}
	if err := db.Create(alert).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	first := &AlertStateEvent{AlertID: alert.ID, Sequence: 1, State: AlertStateNew, Timestamp: time.Now()}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("create first event: %v", err)
	}
	dup := &AlertStateEvent{AlertID: alert.ID, Sequence: 1, State: AlertStateAcknowledged, Timestamp: time.Now()}
	err := db.Create(dup).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("expected ErrDuplicatedKey, got %v", err)
	}
}

func TestAlertGroup_OneActiveGroupPerKey(t *testing.T) {
	db := setupTestDB(t)
	key := GroupKeyFor("sw-01", "cpu", SeverityHigh)
	now := time.Now()

	newGroup := func() *AlertGroup {
		k := key
		return &AlertGroup{
			GroupKey: key, ActiveKey: &k, DeviceID: "sw-01", Metric: "cpu", Severity: SeverityHigh,
			FirstOccurrence: now, LastOccurrence: now, OccurrenceCount: 1,
			Status: GroupStatusActive, CanonicalAlertID: 1,
		}
	}

	g1 := newGroup()
	if err := db.Create(g1).Error; err != nil {
		t.Fatalf("create first group: %v", err)
	}
	if err := db.Create(newGroup()).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate key for second active group, got %v", err)
	}

	// Closing releases the key.
	if err := db.Model(g1).Updates(map[string]interface{}{"status": GroupStatusClosed, "active_key": nil}).Error; err != nil {
		t.Fatalf("close group: %v", err)
	}
	if err := db.Create(newGroup()).Error; err != nil {
		t.Errorf("expected new active group after close, got %v", err)
	}
}

func TestGroupKeyFor(t *testing.T) {
	if GroupKeyFor("d", "m", SeverityLow) == GroupKeyFor("d", "m", SeverityHigh) {
		t.Error("severity must be part of the group key")
	}
	if got := GroupKeyFor("router-1", "ifOperStatus", SeverityCritical); got != "router-1|ifOperStatus|critical" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestEscalationPolicy_JSONColumnsRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	policy := &EscalationPolicy{
		Name: "network-critical",
		Tiers: []EscalationTier{
			{TierNumber: 1, DelayMinutes: 0, Targets: []string{"oncall:network"}, Channels: []string{"email"}},
			{TierNumber: 2, DelayMinutes: 5, Targets: []string{"alice"}, Channels: []string{"sms", "webhook:ops"}},
		},
		Severities: []Severity{SeverityCritical},
		Enabled:    false,
	}
	if err := db.Create(policy).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var loaded EscalationPolicy
	if err := db.First(&loaded, policy.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Tiers) != 2 || loaded.Tiers[1].Channels[1] != "webhook:ops" {
		t.Errorf("tiers not round-tripped: %+v", loaded.Tiers)
	}
	if loaded.Enabled {
		t.Error("disabled policy must stay disabled")
	}
	if !loaded.AppliesTo(SeverityCritical) || loaded.AppliesTo(SeverityLow) {
		t.Error("AppliesTo mismatch")
	}
}

func TestOnCallOverride_Covers(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	o := OnCallOverride{StartsAt: start, EndsAt: start.Add(24 * time.Hour)}

	if !o.Covers(start) {
		t.Error("override must cover its start instant")
	}
	if !o.Covers(start.Add(23 * time.Hour)) {
		t.Error("override must cover instants inside the period")
	}
	if o.Covers(start.Add(24 * time.Hour)) {
		t.Error("override end is exclusive")
	}
	if o.Covers(start.Add(-time.Second)) {
		t.Error("override must not cover instants before start")
	}
}

func TestAlertSourceInstance_GetWebhookURL(t *testing.T) {
	inst := AlertSourceInstance{UUID: "abc-123"}
	if got := inst.GetWebhookURL("https://alerts.example.com"); got != "https://alerts.example.com/webhook/alert/abc-123" {
		t.Errorf("unexpected URL %q", got)
	}
}

func TestGetSeverityEmoji(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range ValidSeverities() {
		emoji := GetSeverityEmoji(s)
		if emoji == ":white_circle:" {
			t.Errorf("severity %s fell through to the default emoji", s)
		}
		if seen[emoji] {
			t.Errorf("emoji %s reused", emoji)
		}
		seen[emoji] = true
	}
	if GetSeverityEmoji("bogus") != ":white_circle:" {
		t.Error("expected default emoji for unknown severity")
	}
}

func TestGetOrCreateEngineSettings(t *testing.T) {
	db := setupTestDB(t)

	settings, err := GetOrCreateEngineSettings(db)
	if err != nil {
		t.Fatalf("GetOrCreateEngineSettings: %v", err)
	}
	if settings.GroupWindowMinutes != 5 || !settings.EscalationEnabled {
		t.Errorf("unexpected defaults: %+v", settings)
	}

	settings.GroupWindowMinutes = 10
	settings.EscalationEnabled = false
	if err := UpdateEngineSettings(db, settings); err != nil {
		t.Fatalf("UpdateEngineSettings: %v", err)
	}

	again, err := GetOrCreateEngineSettings(db)
	if err != nil {
		t.Fatalf("second GetOrCreateEngineSettings: %v", err)
	}
	if again.ID != settings.ID {
		t.Errorf("expected singleton row %d, got %d", settings.ID, again.ID)
	}
	if again.GroupWindow() != 10*time.Minute || again.EscalationEnabled {
		t.Errorf("update not persisted: %+v", again)
	}

	var count int64
	db.Model(&EngineSettings{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 settings row, got %d", count)
	}
}

func TestEngineSettings_GroupWindowFallback(t *testing.T) {
	s := EngineSettings{GroupWindowMinutes: 0}
	if s.GroupWindow() != 5*time.Minute {
		t.Errorf("expected 5m fallback, got %s", s.GroupWindow())
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost:5432/alertflow", "postgres"},
		{"postgresql://localhost/alertflow", "postgres"},
		{"host=localhost user=alertflow dbname=alertflow", "postgres"},
		{"alertflow.db", "sqlite"},
		{"file::memory:?cache=shared", "sqlite"},
	}
	for _, tt := range tests {
		if got := Dialector(tt.dsn).Name(); got != tt.want {
			t.Errorf("Dialector(%q) = %s, want %s", tt.dsn, got, tt.want)
		}
	}
}
