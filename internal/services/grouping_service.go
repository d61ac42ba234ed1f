package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/metrics"
)

// DefaultGroupWindow is used when no window is configured
const DefaultGroupWindow = 5 * time.Minute

// RawAlert is one occurrence reported by an alert source
type RawAlert struct {
	DeviceID           string            `json:"device_id" validate:"required"`
	Metric             string            `json:"metric" validate:"required"`
	Severity           database.Severity `json:"severity" validate:"required"`
	Message            string            `json:"message"`
	Source             string            `json:"source,omitempty"`
	OccurredAt         time.Time         `json:"occurred_at"`
	EscalationPolicyID *uint             `json:"escalation_policy_id,omitempty"`
}

// GroupResult reports where an occurrence landed
type GroupResult struct {
	Group   *database.AlertGroup `json:"group,omitempty"`
	Alert   *database.Alert      `json:"alert"`
	Created bool                 `json:"created"`
	// Late is set for an occurrence older than the group's first occurrence
	// by more than the window. It is attached to the group but not counted.
	Late bool `json:"late,omitempty"`
}

// NoiseStats summarizes how much grouping collapsed
type NoiseStats struct {
	TotalOccurrences int64    `json:"total_occurrences"`
	TotalGroups      int64    `json:"total_groups"`
	Reduction        *float64 `json:"reduction"`
}

// GroupingService collapses repeated occurrences of the same
// (device, metric, severity) into one canonical alert per window
type GroupingService struct {
	db        *gorm.DB
	lifecycle *LifecycleService
	now       func() time.Time
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// NewGroupingService creates a grouping service that opens alerts through lifecycle
func NewGroupingService(db *gorm.DB, lifecycle *LifecycleService, opts ...Option) *GroupingService {
	o := applyOptions(opts)
	return &GroupingService{
		db:        db,
		lifecycle: lifecycle,
		now:       o.now,
		publisher: o.publisher,
		metrics:   o.metrics,
	}
}

// SubmitAlert is the inbound entry point for alert sources. With grouping
// turned off in the engine settings every occurrence opens its own alert.
func (s *GroupingService) SubmitAlert(ctx context.Context, raw RawAlert) (*GroupResult, error) {
	settings, err := database.GetOrCreateEngineSettings(s.db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to load engine settings: %w", err)
	}
	if !settings.GroupingEnabled {
		alert, err := s.lifecycle.CreateAlert(ctx, s.newAlert(raw))
		if err != nil {
			return nil, err
		}
		s.metrics.Occurrence(string(alert.Severity))
		return &GroupResult{Alert: alert, Created: true}, nil
	}
	return s.FindOrCreateGroup(ctx, raw, settings.GroupWindow())
}

// FindOrCreateGroup bumps the active group for the occurrence's key when the
// occurrence falls within window of the group's last occurrence. Otherwise
// it closes the stale group and opens a new group with a new canonical alert.
// Occurrences from before the group started (less the window) are reported
// as Late and leave the group untouched.
func (s *GroupingService) FindOrCreateGroup(ctx context.Context, raw RawAlert, window time.Duration) (*GroupResult, error) {
	if !raw.Severity.IsValid() {
		return nil, invalidConfig("unknown severity %q", raw.Severity)
	}
	if window <= 0 {
		window = DefaultGroupWindow
	}
	if raw.OccurredAt.IsZero() {
		raw.OccurredAt = s.now()
	}
	raw.OccurredAt = raw.OccurredAt.UTC()

	var (
		result *GroupResult
		closed *database.AlertGroup
		err    error
	)
	// A concurrent writer opening the same key loses on the active_key
	// unique index; one retry then finds and bumps the winner's group.
	for attempt := 0; attempt < 2; attempt++ {
		result, closed, err = s.findOrCreate(ctx, raw, window)
		if !errors.Is(err, ErrConcurrentModification) {
			break
		}
		log.WithField("group_key", database.GroupKeyFor(raw.DeviceID, raw.Metric, raw.Severity)).
			Debug("Group opened concurrently, retrying")
	}
	if err != nil {
		return nil, err
	}

	if closed != nil {
		s.groupClosed(closed, "window elapsed")
	}
	s.metrics.Occurrence(string(raw.Severity))
	if result.Late {
		log.WithFields(log.Fields{
			"group_id":    result.Group.ID,
			"occurred_at": raw.OccurredAt,
		}).Debug("Late occurrence predates its group, not counted")
		return result, nil
	}
	if result.Created {
		s.lifecycle.alertCreated(result.Alert)
	} else {
		s.publisher.Publish(events.Event{
			Type:      events.TypeAlertOccurrence,
			AlertID:   result.Alert.ID,
			AlertUUID: result.Alert.UUID,
			Timestamp: raw.OccurredAt,
			Data: map[string]interface{}{
				"group_id":         result.Group.ID,
				"occurrence_count": result.Group.OccurrenceCount,
			},
		})
	}
	return result, nil
}

func (s *GroupingService) findOrCreate(ctx context.Context, raw RawAlert, window time.Duration) (*GroupResult, *database.AlertGroup, error) {
	key := database.GroupKeyFor(raw.DeviceID, raw.Metric, raw.Severity)
	var result *GroupResult
	var closed *database.AlertGroup

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, closed = nil, nil

		var group database.AlertGroup
		err := tx.Where("active_key = ?", key).First(&group).Error
		switch {
		case err == nil:
			if raw.OccurredAt.Before(group.FirstOccurrence.Add(-window)) {
				alert, err := s.lifecycle.getAlert(tx, group.CanonicalAlertID)
				if err != nil {
					return err
				}
				result = &GroupResult{Group: &group, Alert: alert, Late: true}
				return nil
			}
			if raw.OccurredAt.Sub(group.LastOccurrence) <= window {
				r, err := s.bump(tx, &group, raw.OccurredAt)
				if err != nil {
					return err
				}
				result = r
				return nil
			}
			if err := s.closeTx(tx, &group); err != nil {
				return err
			}
			closed = &group
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to look up group %q: %w", key, err)
		}

		alert, err := s.lifecycle.createAlertTx(tx, s.newAlert(raw))
		if err != nil {
			return err
		}
		activeKey := key
		newGroup := &database.AlertGroup{
			GroupKey:         key,
			ActiveKey:        &activeKey,
			DeviceID:         raw.DeviceID,
			Metric:           raw.Metric,
			Severity:         raw.Severity,
			FirstOccurrence:  raw.OccurredAt,
			LastOccurrence:   raw.OccurredAt,
			OccurrenceCount:  1,
			Status:           database.GroupStatusActive,
			CanonicalAlertID: alert.ID,
		}
		if err := tx.Create(newGroup).Error; err != nil {
			return conflict(err, "group %q opened concurrently", key)
		}
		result = &GroupResult{Group: newGroup, Alert: alert, Created: true}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, closed, nil
}

// bump records one more occurrence against an active group. Out-of-order
// occurrences count but never move last_occurrence backwards.
func (s *GroupingService) bump(tx *gorm.DB, group *database.AlertGroup, occurredAt time.Time) (*GroupResult, error) {
	last := group.LastOccurrence
	if occurredAt.After(last) {
		last = occurredAt
	}
	res := tx.Model(&database.AlertGroup{}).
		Where("id = ? AND status = ?", group.ID, database.GroupStatusActive).
		Updates(map[string]interface{}{
			"occurrence_count": gorm.Expr("occurrence_count + 1"),
			"last_occurrence":  last,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("group %d closed concurrently: %w", group.ID, ErrConcurrentModification)
	}
	if err := tx.Model(&database.Alert{}).Where("id = ?", group.CanonicalAlertID).
		Update("duplicate_count", gorm.Expr("duplicate_count + 1")).Error; err != nil {
		return nil, err
	}

	if err := tx.First(group, group.ID).Error; err != nil {
		return nil, err
	}
	alert, err := s.lifecycle.getAlert(tx, group.CanonicalAlertID)
	if err != nil {
		return nil, err
	}
	return &GroupResult{Group: group, Alert: alert}, nil
}

func (s *GroupingService) closeTx(tx *gorm.DB, group *database.AlertGroup) error {
	now := s.now()
	err := tx.Model(&database.AlertGroup{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{
			"status":     database.GroupStatusClosed,
			"active_key": nil,
			"closed_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to close group %d: %w", group.ID, err)
	}
	group.Status = database.GroupStatusClosed
	group.ActiveKey = nil
	group.ClosedAt = &now
	return nil
}

// CloseGroup closes a group so the next occurrence of its key opens a new
// alert even inside the window. Closing a closed group is a no-op.
func (s *GroupingService) CloseGroup(ctx context.Context, groupID uint) (*database.AlertGroup, error) {
	var group database.AlertGroup
	var wasActive bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&group, groupID).Error; err != nil {
			return notFound(err, "group %d", groupID)
		}
		if group.Status != database.GroupStatusActive {
			return nil
		}
		wasActive = true
		return s.closeTx(tx, &group)
	})
	if err != nil {
		return nil, err
	}
	if wasActive {
		s.groupClosed(&group, "closed manually")
	}
	return &group, nil
}

// OnTransition closes the alert's active groups once it resolves, since the incident is over
func (s *GroupingService) OnTransition(tx *gorm.DB, change *StateChange) error {
	if change.To != database.AlertStateResolved {
		return nil
	}
	var groups []database.AlertGroup
	if err := tx.Where("canonical_alert_id = ? AND status = ?", change.Alert.ID, database.GroupStatusActive).
		Find(&groups).Error; err != nil {
		return err
	}
	for i := range groups {
		if err := s.closeTx(tx, &groups[i]); err != nil {
			return err
		}
		g := groups[i]
		change.AfterCommit(func() { s.groupClosed(&g, "alert resolved") })
	}
	return nil
}

// CloseStaleGroups closes active groups whose last occurrence is older than window
func (s *GroupingService) CloseStaleGroups(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		window = DefaultGroupWindow
	}
	cutoff := s.now().Add(-window)

	db := s.db.WithContext(ctx)
	var stale []database.AlertGroup
	if err := db.Where("status = ? AND last_occurrence < ?", database.GroupStatusActive, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	closed := 0
	for i := range stale {
		ok, err := s.closeIfStale(db, &stale[i], cutoff)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
			if err := db.First(&stale[i], stale[i].ID).Error; err != nil {
				return closed, err
			}
			s.groupClosed(&stale[i], "window elapsed")
		}
	}
	return closed, nil
}

// closeIfStale closes the group only if it is still active and quiet since
// cutoff. An occurrence that committed after the group was read wins, and
// the group is left open.
func (s *GroupingService) closeIfStale(db *gorm.DB, group *database.AlertGroup, cutoff time.Time) (bool, error) {
	now := s.now()
	res := db.Model(&database.AlertGroup{}).
		Where("id = ? AND status = ? AND last_occurrence < ?", group.ID, database.GroupStatusActive, cutoff).
		Updates(map[string]interface{}{
			"status":     database.GroupStatusClosed,
			"active_key": nil,
			"closed_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close group %d: %w", group.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	group.Status = database.GroupStatusClosed
	group.ActiveKey = nil
	group.ClosedAt = &now
	return true, nil
}

func (s *GroupingService) groupClosed(g *database.AlertGroup, reason string) {
	s.publisher.Publish(events.Event{
		Type:    events.TypeGroupClosed,
		AlertID: g.CanonicalAlertID,
		Data: map[string]interface{}{
			"group_id":         g.ID,
			"group_key":        g.GroupKey,
			"occurrence_count": g.OccurrenceCount,
			"reason":           reason,
		},
	})
	log.WithFields(log.Fields{
		"group_id":    g.ID,
		"group_key":   g.GroupKey,
		"occurrences": g.OccurrenceCount,
		"reason":      reason,
	}).Info("Alert group closed")
}

// GetGroup returns a group by ID
func (s *GroupingService) GetGroup(ctx context.Context, id uint) (*database.AlertGroup, error) {
	var group database.AlertGroup
	if err := s.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return nil, notFound(err, "group %d", id)
	}
	return &group, nil
}

// ListGroups returns a page of groups, most recently active first. An empty status lists all.
func (s *GroupingService) ListGroups(ctx context.Context, status database.GroupStatus, offset, limit int) ([]database.AlertGroup, int64, error) {
	q := s.db.WithContext(ctx).Model(&database.AlertGroup{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	var groups []database.AlertGroup
	err := q.Order("last_occurrence DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&groups).Error
	return groups, total, err
}

// CountActive returns the number of active groups
func (s *GroupingService) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.AlertGroup{}).
		Where("status = ?", database.GroupStatusActive).Count(&n).Error
	return n, err
}

// NoiseReduction reports (occurrences - groups) / occurrences for groups
// first seen in [from, to). Zero values leave that side open.
func (s *GroupingService) NoiseReduction(ctx context.Context, from, to time.Time) (*NoiseStats, error) {
	q := s.db.WithContext(ctx).Model(&database.AlertGroup{}).
		Select("COALESCE(SUM(occurrence_count), 0) AS total_occurrences, COUNT(*) AS total_groups")
	if !from.IsZero() {
		q = q.Where("first_occurrence >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("first_occurrence < ?", to.UTC())
	}
	var row struct {
		TotalOccurrences int64 `gorm:"column:total_occurrences"`
		TotalGroups      int64 `gorm:"column:total_groups"`
	}
	if err := q.Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to compute noise reduction: %w", err)
	}
	stats := &NoiseStats{TotalOccurrences: row.TotalOccurrences, TotalGroups: row.TotalGroups}
	if row.TotalOccurrences > 0 {
		r := float64(row.TotalOccurrences-row.TotalGroups) / float64(row.TotalOccurrences)
		stats.Reduction = &r
	}
	return stats, nil
}

// ResolveActive resolves the unresolved canonical alerts for a key, used when
// a source reports the condition has cleared. Groups are not consulted: the
// reaper closes a quiet group long before most sources send their resolve.
// It returns the newest alert it resolved, or nil when none was open.
func (s *GroupingService) ResolveActive(ctx context.Context, deviceID, metric string, severity database.Severity, notes string) (*database.Alert, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&database.Alert{}).
		Where("device_id = ? AND metric = ? AND severity = ? AND grouped_into IS NULL", deviceID, metric, severity).
		Where(latestStateSQL+" <> ?", database.AlertStateResolved).
		Order("created_at DESC").Order("id DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up open alerts for %q: %w",
			database.GroupKeyFor(deviceID, metric, severity), err)
	}

	var newest uint
	for _, id := range ids {
		if _, err := s.lifecycle.Transition(ctx, id, database.AlertStateResolved, nil, notes, nil); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return nil, err
		}
		if newest == 0 {
			newest = id
		}
	}
	if newest == 0 {
		return nil, nil
	}
	return s.lifecycle.GetAlert(ctx, newest)
}

func (s *GroupingService) newAlert(raw RawAlert) NewAlert {
	return NewAlert{
		DeviceID:           raw.DeviceID,
		Metric:             raw.Metric,
		Severity:           raw.Severity,
		Message:            raw.Message,
		Source:             raw.Source,
		OccurredAt:         raw.OccurredAt,
		EscalationPolicyID: raw.EscalationPolicyID,
	}
}
