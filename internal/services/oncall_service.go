package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
)

// ValidateSchedule checks a schedule definition before it is stored
func ValidateSchedule(s *database.OnCallSchedule) error {
	if strings.TrimSpace(s.Name) == "" {
		return invalidConfig("schedule name is required")
	}
	switch s.RotationType {
	case database.RotationWeekly, database.RotationDaily:
	default:
		return invalidConfig("schedule %q: unknown rotation type %q", s.Name, s.RotationType)
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return invalidConfig("schedule %q: unknown timezone %q", s.Name, s.Timezone)
	}
	if s.RotationStart.IsZero() {
		return invalidConfig("schedule %q: rotation start is required", s.Name)
	}
	if len(s.Entries) == 0 {
		return invalidConfig("schedule %q has an empty rotation", s.Name)
	}
	for i, e := range s.Entries {
		if len(e.Users) == 0 {
			return invalidConfig("schedule %q: rotation entry %d has no users", s.Name, i)
		}
		for _, u := range e.Users {
			if strings.TrimSpace(u) == "" {
				return invalidConfig("schedule %q: rotation entry %d has an empty user", s.Name, i)
			}
		}
	}
	return nil
}

// ResolveOnCall returns who is on duty for the schedule at the given instant.
// An override covering the instant wins over the rotation; when several
// overlap the most recently created one applies. A disabled schedule or
// an empty rotation resolves to nobody. It is a pure function of its inputs.
func ResolveOnCall(schedule *database.OnCallSchedule, overrides []database.OnCallOverride, at time.Time) ([]string, error) {
	if !schedule.Enabled {
		return nil, nil
	}

	var winner *database.OnCallOverride
	for i := range overrides {
		o := &overrides[i]
		if o.ScheduleID != 0 && schedule.ID != 0 && o.ScheduleID != schedule.ID {
			continue
		}
		if !o.Covers(at) {
			continue
		}
		if winner == nil || o.CreatedAt.After(winner.CreatedAt) ||
			(o.CreatedAt.Equal(winner.CreatedAt) && o.ID > winner.ID) {
			winner = o
		}
	}
	if winner != nil {
		return []string{winner.UserID}, nil
	}

	if len(schedule.Entries) == 0 {
		return nil, nil
	}

	loc, err := scheduleLocation(schedule)
	if err != nil {
		return nil, err
	}
	period, err := rotationPeriod(schedule.RotationType, schedule.RotationStart, at, loc)
	if err != nil {
		return nil, err
	}
	idx := positiveMod(period, len(schedule.Entries))

	users := schedule.Entries[idx].Users
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}

func scheduleLocation(s *database.OnCallSchedule) (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalidConfig("schedule %q: unknown timezone %q", s.Name, tz)
	}
	return loc, nil
}

// rotationPeriod counts whole periods elapsed since the anchor, measured in
// civil days in the schedule's timezone so DST shifts never move a handoff.
// Instants before the anchor yield negative periods.
func rotationPeriod(rt database.RotationType, anchor, at time.Time, loc *time.Location) (int, error) {
	a := anchor.In(loc)
	t := at.In(loc)

	days := civilDay(t) - civilDay(a)
	if timeOfDay(t) < timeOfDay(a) {
		days--
	}

	switch rt {
	case database.RotationDaily:
		return days, nil
	case database.RotationWeekly:
		return floorDiv(days, 7), nil
	default:
		return 0, invalidConfig("unknown rotation type %q", rt)
	}
}

// civilDay numbers calendar dates so consecutive dates differ by one
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func positiveMod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// OverrideForDate builds an override covering one calendar date in the schedule's timezone
func OverrideForDate(schedule *database.OnCallSchedule, date, userID, reason string) (*database.OnCallOverride, error) {
	loc, err := scheduleLocation(schedule)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, invalidConfig("invalid override date %q", date)
	}
	return &database.OnCallOverride{
		ScheduleID: schedule.ID,
		UserID:     userID,
		StartsAt:   day.UTC(),
		EndsAt:     day.AddDate(0, 0, 1).UTC(),
		Reason:     reason,
	}, nil
}

// OnCallService stores schedules and resolves who is on call
type OnCallService struct {
	db    *gorm.DB
	now   func() time.Time
	cache *cache.Cache
}

// NewOnCallService creates an on-call service. Schedules looked up by name are cached for ttl.
func NewOnCallService(db *gorm.DB, ttl time.Duration, opts ...Option) *OnCallService {
	o := applyOptions(opts)
	return &OnCallService{db: db, now: o.now, cache: cache.New(ttl, 0)}
}

// ListSchedules returns all schedules ordered by name
func (s *OnCallService) ListSchedules(ctx context.Context) ([]database.OnCallSchedule, error) {
	var schedules []database.OnCallSchedule
	err := s.db.WithContext(ctx).Order("name ASC").Find(&schedules).Error
	return schedules, err
}

// GetSchedule returns a schedule with its overrides
func (s *OnCallService) GetSchedule(ctx context.Context, id uint) (*database.OnCallSchedule, error) {
	var schedule database.OnCallSchedule
	err := s.db.WithContext(ctx).
		Preload("Overrides", func(db *gorm.DB) *gorm.DB { return db.Order("starts_at ASC") }).
		First(&schedule, id).Error
	if err != nil {
		return nil, notFound(err, "schedule %d", id)
	}
	return &schedule, nil
}

// GetScheduleByName returns a schedule without overrides
func (s *OnCallService) GetScheduleByName(ctx context.Context, name string) (*database.OnCallSchedule, error) {
	if cached, ok := s.cache.Get(name); ok {
		schedule := cached.(database.OnCallSchedule)
		return &schedule, nil
	}
	var schedule database.OnCallSchedule
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&schedule).Error; err != nil {
		return nil, notFound(err, "schedule %q", name)
	}
	s.cache.Set(name, schedule, cache.DefaultExpiration)
	return &schedule, nil
}

// CreateSchedule validates and stores a schedule
func (s *OnCallService) CreateSchedule(ctx context.Context, schedule *database.OnCallSchedule) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}
	schedule.ID = 0
	schedule.Overrides = nil
	if err := s.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return conflict(err, "schedule %q already exists", schedule.Name)
	}
	s.cache.Flush()
	return nil
}

// UpdateSchedule replaces a schedule's rotation definition, keeping its overrides
func (s *OnCallService) UpdateSchedule(ctx context.Context, id uint, schedule *database.OnCallSchedule) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}
	existing, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	schedule.ID = existing.ID
	schedule.CreatedAt = existing.CreatedAt
	schedule.Overrides = nil
	if err := s.db.WithContext(ctx).Omit("Overrides").Save(schedule).Error; err != nil {
		return conflict(err, "schedule %q already exists", schedule.Name)
	}
	s.cache.Flush()
	return nil
}

// UpsertSchedule creates or replaces a schedule by name
func (s *OnCallService) UpsertSchedule(ctx context.Context, schedule *database.OnCallSchedule) error {
	var existing database.OnCallSchedule
	err := s.db.WithContext(ctx).Where("name = ?", schedule.Name).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.CreateSchedule(ctx, schedule)
	}
	if err != nil {
		return err
	}
	return s.UpdateSchedule(ctx, existing.ID, schedule)
}

// DeleteSchedule removes a schedule and its overrides
func (s *OnCallService) DeleteSchedule(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&database.OnCallOverride{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&database.OnCallSchedule{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// AddOverride stores an override for a schedule
func (s *OnCallService) AddOverride(ctx context.Context, scheduleID uint, o *database.OnCallOverride) error {
	if strings.TrimSpace(o.UserID) == "" {
		return invalidConfig("override user is required")
	}
	if !o.EndsAt.After(o.StartsAt) {
		return invalidConfig("override must end after it starts")
	}
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return err
	}
	o.ID = 0
	o.ScheduleID = scheduleID
	o.StartsAt = o.StartsAt.UTC()
	o.EndsAt = o.EndsAt.UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(o).Error
}

// DeleteOverride removes one override from a schedule
func (s *OnCallService) DeleteOverride(ctx context.Context, scheduleID, overrideID uint) error {
	res := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Delete(&database.OnCallOverride{}, overrideID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("override %d on schedule %d: %w", overrideID, scheduleID, ErrNotFound)
	}
	return nil
}

// ResolveOnCall returns who is on call for a schedule ID at the given instant
func (s *OnCallService) ResolveOnCall(ctx context.Context, scheduleID uint, at time.Time) ([]string, error) {
	var schedule database.OnCallSchedule
	if err := s.db.WithContext(ctx).First(&schedule, scheduleID).Error; err != nil {
		return nil, notFound(err, "schedule %d", scheduleID)
	}
	return s.resolve(ctx, &schedule, at)
}

// ResolveByName returns who is on call for a named schedule at the given instant
func (s *OnCallService) ResolveByName(ctx context.Context, name string, at time.Time) ([]string, error) {
	schedule, err := s.GetScheduleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, schedule, at)
}

// Now returns the service clock's current time
func (s *OnCallService) Now() time.Time {
	return s.now()
}

func (s *OnCallService) resolve(ctx context.Context, schedule *database.OnCallSchedule, at time.Time) ([]string, error) {
	at = at.UTC()
	var overrides []database.OnCallOverride
	err := s.db.WithContext(ctx).
		Where("schedule_id = ? AND starts_at <= ? AND ends_at > ?", schedule.ID, at, at).
		Find(&overrides).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides: %w", err)
	}
	return ResolveOnCall(schedule, overrides, at)
}
