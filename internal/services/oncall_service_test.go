package services

import (
	"errors"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

func resolveOrFail(t *testing.T, s *database.OnCallSchedule, overrides []database.OnCallOverride, at time.Time) []string {
	t.Helper()
	users, err := ResolveOnCall(s, overrides, at)
	if err != nil {
		t.Fatalf("ResolveOnCall(%v): %v", at, err)
	}
	return users
}

func TestResolveOnCall_WeeklyWraparound(t *testing.T) {
	users := []string{"alice", "bob", "carol"}
	schedule := testhelpers.NewScheduleBuilder().WithUsers(users...).Build()
	anchor := schedule.RotationStart

	for k := 0; k < 12; k++ {
		want := users[k%len(users)]
		week := anchor.AddDate(0, 0, 7*k)
		for _, at := range []time.Time{week, week.Add(3*24*time.Hour + 5*time.Hour), week.Add(7*24*time.Hour - time.Second)} {
			got := resolveOrFail(t, &schedule, nil, at)
			if len(got) != 1 || got[0] != want {
				t.Errorf("k=%d at %v: got %v, want %s", k, at, got, want)
			}
		}
	}
}

func TestResolveOnCall_BeforeAnchor(t *testing.T) {
	schedule := testhelpers.NewScheduleBuilder().WithUsers("alice", "bob", "carol").Build()

	got := resolveOrFail(t, &schedule, nil, schedule.RotationStart.Add(-time.Minute))
	if !reflect.DeepEqual(got, []string{"carol"}) {
		t.Errorf("the week before the anchor should wrap to the last entry, got %v", got)
	}
}

func TestResolveOnCall_Daily(t *testing.T) {
	schedule := testhelpers.NewScheduleBuilder().Daily().WithUsers("alice", "bob").Build()
	anchor := schedule.RotationStart // 09:00 UTC

	tests := []struct {
		at   time.Time
		want string
	}{
		{anchor, "alice"},
		{anchor.Add(23*time.Hour + 59*time.Minute), "alice"},
		{anchor.Add(24 * time.Hour), "bob"},
		{anchor.Add(48 * time.Hour), "alice"},
		{anchor.Add(-time.Hour), "bob"},
	}
	for _, tt := range tests {
		got := resolveOrFail(t, &schedule, nil, tt.at)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("at %v: got %v, want %s", tt.at, got, tt.want)
		}
	}
}

func TestResolveOnCall_HandoffFollowsLocalTimeAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// DST starts 2024-03-10 02:00 local, so that day is 23 hours long.
	schedule := testhelpers.NewScheduleBuilder().Daily().InTimezone("America/New_York").
		StartingAt(time.Date(2024, 3, 9, 9, 0, 0, 0, ny)).
		WithUsers("alice", "bob").Build()

	before := time.Date(2024, 3, 10, 8, 30, 0, 0, ny)
	if got := resolveOrFail(t, &schedule, nil, before); got[0] != "alice" {
		t.Errorf("08:30 local on the DST day: got %v, want alice", got)
	}
	handoff := time.Date(2024, 3, 10, 9, 0, 0, 0, ny)
	if got := resolveOrFail(t, &schedule, nil, handoff); got[0] != "bob" {
		t.Errorf("09:00 local on the DST day: got %v, want bob", got)
	}
}

func TestResolveOnCall_EdgeCases(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	single := testhelpers.NewScheduleBuilder().WithUsers("solo").Build()
	for k := 0; k < 5; k++ {
		if got := resolveOrFail(t, &single, nil, at.AddDate(0, 0, 7*k)); got[0] != "solo" {
			t.Errorf("single entry rotation returned %v", got)
		}
	}

	empty := testhelpers.NewScheduleBuilder().Build()
	if got := resolveOrFail(t, &empty, nil, at); got != nil {
		t.Errorf("empty rotation should resolve to nobody, got %v", got)
	}

	disabled := testhelpers.NewScheduleBuilder().WithUsers("alice").Disabled().Build()
	if got := resolveOrFail(t, &disabled, nil, at); got != nil {
		t.Errorf("disabled schedule should resolve to nobody, got %v", got)
	}

	parallel := testhelpers.NewScheduleBuilder().WithEntry("alice", "bob").Build()
	if got := resolveOrFail(t, &parallel, nil, at); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("parallel entry returned %v", got)
	}

	badTZ := testhelpers.NewScheduleBuilder().WithUsers("alice").InTimezone("Mars/Olympus").Build()
	if _, err := ResolveOnCall(&badTZ, nil, at); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown timezone: expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestResolveOnCall_Overrides(t *testing.T) {
	schedule := testhelpers.NewScheduleBuilder().WithUsers("alice", "bob").Build()
	at := schedule.RotationStart.Add(2 * time.Hour)

	older := database.OnCallOverride{
		ID: 1, UserID: "dave", StartsAt: at.Add(-time.Hour), EndsAt: at.Add(time.Hour), CreatedAt: t0,
	}
	newer := database.OnCallOverride{
		ID: 2, UserID: "erin", StartsAt: at.Add(-time.Hour), EndsAt: at.Add(time.Hour), CreatedAt: t0.Add(time.Minute),
	}
	expired := database.OnCallOverride{
		ID: 3, UserID: "frank", StartsAt: at.Add(-2 * time.Hour), EndsAt: at, CreatedAt: t0.Add(time.Hour),
	}

	tests := []struct {
		name      string
		overrides []database.OnCallOverride
		want      string
	}{
		{"override replaces rotation", []database.OnCallOverride{older}, "dave"},
		{"most recently created wins", []database.OnCallOverride{newer, older}, "erin"},
		{"end is exclusive", []database.OnCallOverride{expired}, "alice"},
		{"no overrides", nil, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveOrFail(t, &schedule, tt.overrides, at)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("got %v, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *database.OnCallSchedule)
		wantErr bool
	}{
		{"valid", func(s *database.OnCallSchedule) {}, false},
		{"empty timezone defaults to UTC", func(s *database.OnCallSchedule) { s.Timezone = "" }, false},
		{"missing name", func(s *database.OnCallSchedule) { s.Name = "" }, true},
		{"unknown rotation", func(s *database.OnCallSchedule) { s.RotationType = "monthly" }, true},
		{"unknown timezone", func(s *database.OnCallSchedule) { s.Timezone = "Nowhere/City" }, true},
		{"no anchor", func(s *database.OnCallSchedule) { s.RotationStart = time.Time{} }, true},
		{"empty rotation", func(s *database.OnCallSchedule) { s.Entries = nil }, true},
		{"entry without users", func(s *database.OnCallSchedule) { s.Entries[0].Users = nil }, true},
		{"blank user", func(s *database.OnCallSchedule) { s.Entries[0].Users = []string{" "} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testhelpers.NewScheduleBuilder().WithUsers("alice").Build()
			tt.mutate(&s)
			err := ValidateSchedule(&s)
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
			if err == nil && s.Timezone != "UTC" {
				t.Errorf("timezone = %q, want UTC", s.Timezone)
			}
		})
	}
}

func TestOverrideForDate(t *testing.T) {
	schedule := testhelpers.NewScheduleBuilder().InTimezone("Europe/Berlin").WithUsers("alice").Build()
	o, err := OverrideForDate(&schedule, "2024-07-01", "bob", "swap")
	if err != nil {
		t.Fatalf("OverrideForDate: %v", err)
	}
	wantStart := time.Date(2024, 6, 30, 22, 0, 0, 0, time.UTC)
	if !o.StartsAt.Equal(wantStart) || !o.EndsAt.Equal(wantStart.Add(24*time.Hour)) {
		t.Errorf("override covers [%v, %v)", o.StartsAt, o.EndsAt)
	}
	if o.UserID != "bob" || o.Reason != "swap" {
		t.Errorf("unexpected override %+v", o)
	}

	if _, err := OverrideForDate(&schedule, "07/01/2024", "bob", ""); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("bad date: expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestOnCallService_ScheduleLifecycle(t *testing.T) {
	h := newHarness(t)
	schedule := testhelpers.NewScheduleBuilder().WithName("primary").WithUsers("alice", "bob").Build()
	if err := h.oncall.CreateSchedule(h.ctx, &schedule); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	at := schedule.RotationStart.Add(time.Hour)

	got, err := h.oncall.ResolveByName(h.ctx, "primary", at)
	if err != nil || !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("ResolveByName = %v, %v", got, err)
	}

	override := &database.OnCallOverride{UserID: "carol", StartsAt: at.Add(-time.Minute), EndsAt: at.Add(time.Hour)}
	if err := h.oncall.AddOverride(h.ctx, schedule.ID, override); err != nil {
		t.Fatalf("AddOverride: %v", err)
	}
	if !override.CreatedAt.Equal(t0) {
		t.Errorf("override CreatedAt = %v, want clock time", override.CreatedAt)
	}
	got, _ = h.oncall.ResolveOnCall(h.ctx, schedule.ID, at)
	if !reflect.DeepEqual(got, []string{"carol"}) {
		t.Errorf("override not applied, got %v", got)
	}

	loaded, err := h.oncall.GetSchedule(h.ctx, schedule.ID)
	if err != nil || len(loaded.Overrides) != 1 {
		t.Fatalf("GetSchedule overrides = %v, %v", loaded, err)
	}

	if err := h.oncall.DeleteOverride(h.ctx, schedule.ID, override.ID); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	if err := h.oncall.DeleteOverride(h.ctx, schedule.ID, override.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteOverride: expected ErrNotFound, got %v", err)
	}

	replacement := testhelpers.NewScheduleBuilder().WithName("primary").WithUsers("zed").Build()
	if err := h.oncall.UpsertSchedule(h.ctx, &replacement); err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}
	if replacement.ID != schedule.ID {
		t.Errorf("upsert should keep ID %d, got %d", schedule.ID, replacement.ID)
	}
	got, _ = h.oncall.ResolveByName(h.ctx, "primary", at)
	if !reflect.DeepEqual(got, []string{"zed"}) {
		t.Errorf("cached schedule survived upsert, got %v", got)
	}

	if err := h.oncall.DeleteSchedule(h.ctx, schedule.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := h.oncall.ResolveByName(h.ctx, "primary", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestOnCallService_Rejections(t *testing.T) {
	h := newHarness(t)
	schedule := testhelpers.NewScheduleBuilder().WithUsers("alice").Build()
	if err := h.oncall.CreateSchedule(h.ctx, &schedule); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	dup := testhelpers.NewScheduleBuilder().WithUsers("bob").Build()
	if err := h.oncall.CreateSchedule(h.ctx, &dup); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("duplicate name: expected ErrConcurrentModification, got %v", err)
	}

	empty := testhelpers.NewScheduleBuilder().WithName("empty").Build()
	if err := h.oncall.CreateSchedule(h.ctx, &empty); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("empty rotation: expected ErrInvalidConfiguration, got %v", err)
	}

	backwards := &database.OnCallOverride{UserID: "bob", StartsAt: t0, EndsAt: t0}
	if err := h.oncall.AddOverride(h.ctx, schedule.ID, backwards); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("empty override window: expected ErrInvalidConfiguration, got %v", err)
	}
	orphan := &database.OnCallOverride{UserID: "bob", StartsAt: t0, EndsAt: t0.Add(time.Hour)}
	if err := h.oncall.AddOverride(h.ctx, 999, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown schedule: expected ErrNotFound, got %v", err)
	}
	if _, err := h.oncall.ResolveOnCall(h.ctx, 999, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveOnCall unknown: expected ErrNotFound, got %v", err)
	}
}
