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

// ActorSystem is recorded when the engine itself performs an action
const ActorSystem = "system"

// maxRedirectDepth bounds how far grouped_into chains are followed
const maxRedirectDepth = 16

// latestStateSQL projects an alert's current state from its event log.
// It must be used in a query where the alerts table is in scope.
const latestStateSQL = `(SELECT e.state FROM alert_state_events e WHERE e.alert_id = alerts.id ORDER BY e.timestamp DESC, e.sequence DESC LIMIT 1)`

// StateChange describes a committed-to-be transition handed to observers
type StateChange struct {
	Alert *database.Alert
	From  database.AlertState
	To    database.AlertState
	Actor *string
	At    time.Time
	Event *database.AlertStateEvent

	afterCommit []func()
}

// AfterCommit registers fn to run once the transition transaction commits
func (c *StateChange) AfterCommit(fn func()) {
	c.afterCommit = append(c.afterCommit, fn)
}

// TransitionObserver reacts to a transition inside its transaction.
// Returning an error rolls the whole transition back.
type TransitionObserver interface {
	OnTransition(tx *gorm.DB, change *StateChange) error
}

// NewAlert is the input for creating a canonical alert
type NewAlert struct {
	DeviceID           string
	Metric             string
	Severity           database.Severity
	Message            string
	Source             string
	OccurredAt         time.Time
	EscalationPolicyID *uint
}

// AlertStatus is the dashboard view of one alert
type AlertStatus struct {
	Alert              database.Alert        `json:"alert"`
	State              database.AlertState   `json:"state"`
	StateSince         *time.Time            `json:"state_since,omitempty"`
	CanonicalAlertID   uint                  `json:"canonical_alert_id"`
	SLA                *database.AlertSLA    `json:"sla,omitempty"`
	AllowedTransitions []database.AlertState `json:"allowed_transitions"`
}

// AlertFilter narrows ListAlerts
type AlertFilter struct {
	State         database.AlertState
	Severity      database.Severity
	DeviceID      string
	IncludeMerged bool
	Offset        int
	Limit         int
}

// LifecycleService owns alert creation, the state machine and merges
type LifecycleService struct {
	db        *gorm.DB
	now       func() time.Time
	publisher events.Publisher
	metrics   *metrics.Metrics
	observers []TransitionObserver
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(db *gorm.DB, opts ...Option) *LifecycleService {
	o := applyOptions(opts)
	return &LifecycleService{db: db, now: o.now, publisher: o.publisher, metrics: o.metrics}
}

// AddObserver registers an in-transaction transition observer
func (s *LifecycleService) AddObserver(o TransitionObserver) {
	s.observers = append(s.observers, o)
}

// CreateAlert persists an alert, its initial "new" event and its SLA row atomically
func (s *LifecycleService) CreateAlert(ctx context.Context, in NewAlert) (*database.Alert, error) {
	var alert *database.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		alert, err = s.createAlertTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.alertCreated(alert)
	return alert, nil
}

// createAlertTx is the creation triple, for callers that already hold a transaction
func (s *LifecycleService) createAlertTx(tx *gorm.DB, in NewAlert) (*database.Alert, error) {
	if !in.Severity.IsValid() {
		return nil, invalidConfig("unknown severity %q", in.Severity)
	}
	createdAt := in.OccurredAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	createdAt = createdAt.UTC()

	alert := &database.Alert{
		DeviceID:           in.DeviceID,
		Metric:             in.Metric,
		Severity:           in.Severity,
		Message:            in.Message,
		Source:             in.Source,
		EscalationPolicyID: in.EscalationPolicyID,
		DuplicateCount:     1,
		CreatedAt:          createdAt,
	}
	if err := tx.Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	event := &database.AlertStateEvent{
		AlertID:   alert.ID,
		Sequence:  1,
		State:     database.AlertStateNew,
		Timestamp: createdAt,
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record initial state: %w", err)
	}

	sla, err := NewAlertSLA(alert)
	if err != nil {
		return nil, err
	}
	if err := tx.Create(sla).Error; err != nil {
		return nil, fmt.Errorf("failed to create sla: %w", err)
	}
	alert.SLA = sla
	return alert, nil
}

func (s *LifecycleService) alertCreated(alert *database.Alert) {
	s.metrics.AlertCreated(string(alert.Severity))
	s.publisher.Publish(events.Event{
		Type:      events.TypeAlertCreated,
		AlertID:   alert.ID,
		AlertUUID: alert.UUID,
		Data: map[string]interface{}{
			"device_id": alert.DeviceID,
			"metric":    alert.Metric,
			"severity":  alert.Severity,
		},
	})
	log.WithFields(log.Fields{
		"alert_id": alert.ID,
		"device":   alert.DeviceID,
		"metric":   alert.Metric,
		"severity": alert.Severity,
	}).Info("Alert created")
}

// Transition appends a state event after validating it against the current
// state. Merged alerts are redirected to their canonical alert. Two writers
// racing on the same alert cannot both append: the loser gets
// ErrConcurrentModification.
func (s *LifecycleService) Transition(ctx context.Context, alertID uint, target database.AlertState, actor *string, notes string, metadata map[string]interface{}) (*database.AlertStateEvent, error) {
	var change *StateChange
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alert, err := s.canonicalAlert(tx, alertID)
		if err != nil {
			return err
		}

		latest, err := latestEvent(tx, alert.ID)
		if err != nil {
			return err
		}
		from := database.AlertStateUnknown
		seq := 1
		at := s.now().UTC()
		if latest != nil {
			from = latest.State
			seq = latest.Sequence + 1
			// Keep the log ordered by timestamp even if clocks disagree.
			if at.Before(latest.Timestamp) {
				at = latest.Timestamp
			}
		}
		if err := checkTransition(from, target); err != nil {
			return err
		}

		event := &database.AlertStateEvent{
			AlertID:   alert.ID,
			Sequence:  seq,
			State:     target,
			Actor:     actor,
			Timestamp: at,
			Notes:     notes,
			Metadata:  metadata,
		}
		if err := tx.Create(event).Error; err != nil {
			return conflict(err, "alert %d changed concurrently", alert.ID)
		}

		change = &StateChange{Alert: alert, From: from, To: target, Actor: actor, At: at, Event: event}
		for _, o := range s.observers {
			if err := o.OnTransition(tx, change); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, fn := range change.afterCommit {
		fn()
	}
	s.metrics.Transition(string(change.From), string(change.To))
	s.publisher.Publish(events.Event{
		Type:      events.TypeTransition,
		AlertID:   change.Alert.ID,
		AlertUUID: change.Alert.UUID,
		Timestamp: change.At,
		Data: map[string]interface{}{
			"from":  change.From,
			"to":    change.To,
			"actor": actorName(change.Actor),
		},
	})
	log.WithFields(log.Fields{
		"alert_id": change.Alert.ID,
		"from":     change.From,
		"to":       change.To,
		"actor":    actorName(change.Actor),
	}).Info("Alert transitioned")
	return change.Event, nil
}

// CurrentState returns the latest recorded state, or AlertStateUnknown when
// the alert has no events. Merged alerts report their canonical alert's state.
func (s *LifecycleService) CurrentState(ctx context.Context, alertID uint) (database.AlertState, error) {
	db := s.db.WithContext(ctx)
	alert, err := s.canonicalAlert(db, alertID)
	if err != nil {
		return database.AlertStateUnknown, err
	}
	latest, err := latestEvent(db, alert.ID)
	if err != nil {
		return database.AlertStateUnknown, err
	}
	if latest == nil {
		return database.AlertStateUnknown, nil
	}
	return latest.State, nil
}

// History returns the alert's own events, oldest first
func (s *LifecycleService) History(ctx context.Context, alertID uint) ([]database.AlertStateEvent, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.getAlert(db, alertID); err != nil {
		return nil, err
	}
	var history []database.AlertStateEvent
	err := db.Where("alert_id = ?", alertID).
		Order("timestamp ASC").Order("sequence ASC").
		Find(&history).Error
	return history, err
}

// GetAlert loads an alert by ID
func (s *LifecycleService) GetAlert(ctx context.Context, alertID uint) (*database.Alert, error) {
	return s.getAlert(s.db.WithContext(ctx), alertID)
}

// GetAlertByUUID loads an alert by its public UUID
func (s *LifecycleService) GetAlertByUUID(ctx context.Context, id string) (*database.Alert, error) {
	var alert database.Alert
	if err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&alert).Error; err != nil {
		return nil, notFound(err, "alert %s", id)
	}
	return &alert, nil
}

// GetAlertStatus returns the current state and SLA of an alert
func (s *LifecycleService) GetAlertStatus(ctx context.Context, alertID uint) (*AlertStatus, error) {
	db := s.db.WithContext(ctx)
	alert, err := s.getAlert(db, alertID)
	if err != nil {
		return nil, err
	}
	canonical, err := s.canonicalAlert(db, alertID)
	if err != nil {
		return nil, err
	}

	status := &AlertStatus{Alert: *alert, State: database.AlertStateUnknown, CanonicalAlertID: canonical.ID}
	latest, err := latestEvent(db, canonical.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		status.State = latest.State
		ts := latest.Timestamp
		status.StateSince = &ts
	}
	status.AllowedTransitions = NextStates(status.State)

	var sla database.AlertSLA
	if err := db.Where("alert_id = ?", alert.ID).First(&sla).Error; err == nil {
		status.SLA = &sla
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return status, nil
}

// ListAlerts returns a page of alerts with their current state
func (s *LifecycleService) ListAlerts(ctx context.Context, f AlertFilter) ([]AlertStatus, int64, error) {
	filter := func(q *gorm.DB) *gorm.DB {
		if !f.IncludeMerged {
			q = q.Where("alerts.grouped_into IS NULL")
		}
		if f.Severity != "" {
			q = q.Where("alerts.severity = ?", f.Severity)
		}
		if f.DeviceID != "" {
			q = q.Where("alerts.device_id = ?", f.DeviceID)
		}
		if f.State != "" {
			q = q.Where(latestStateSQL+" = ?", f.State)
		}
		return q
	}
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&database.Alert{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	var alerts []database.Alert
	if err := db.Scopes(filter).Preload("SLA").Order("alerts.created_at DESC").Order("alerts.id DESC").
		Offset(f.Offset).Limit(f.Limit).Find(&alerts).Error; err != nil {
		return nil, 0, err
	}

	states, err := projectStates(db, alerts)
	if err != nil {
		return nil, 0, err
	}

	out := make([]AlertStatus, 0, len(alerts))
	for _, a := range alerts {
		st := states[a.ID]
		if st == "" {
			st = database.AlertStateUnknown
		}
		canonicalID := a.ID
		if a.GroupedInto != nil {
			canonicalID = *a.GroupedInto
		}
		out = append(out, AlertStatus{
			Alert:              a,
			State:              st,
			CanonicalAlertID:   canonicalID,
			SLA:                a.SLA,
			AllowedTransitions: NextStates(st),
		})
	}
	return out, total, nil
}

type alertStateRow struct {
	ID    uint                `gorm:"column:id"`
	State database.AlertState `gorm:"column:state"`
}

// projectStates reads the current state for a batch of alerts in one query
func projectStates(db *gorm.DB, alerts []database.Alert) (map[uint]database.AlertState, error) {
	out := make(map[uint]database.AlertState, len(alerts))
	if len(alerts) == 0 {
		return out, nil
	}
	ids := make([]uint, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	var rows []alertStateRow
	err := db.Model(&database.Alert{}).
		Select("alerts.id AS id, " + latestStateSQL + " AS state").
		Where("alerts.id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.State
	}
	return out, nil
}

// MergeAlert folds a duplicate alert into a canonical one. The duplicate
// stops escalating, its counter is added to the canonical alert and any
// active group still pointing at it is redirected.
func (s *LifecycleService) MergeAlert(ctx context.Context, duplicateID, canonicalID uint, mergedBy, reason string) (*database.AlertMerge, error) {
	if mergedBy == "" {
		mergedBy = ActorSystem
	}
	var merge *database.AlertMerge
	var dup, canonical *database.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dup, err = s.getAlert(tx, duplicateID)
		if err != nil {
			return err
		}
		if dup.IsMerged() {
			return fmt.Errorf("%w: alert %d is already merged into %d", ErrInvalidTransition, dup.ID, *dup.GroupedInto)
		}
		canonical, err = s.canonicalAlert(tx, canonicalID)
		if err != nil {
			return err
		}
		if canonical.ID == dup.ID {
			return fmt.Errorf("%w: cannot merge alert %d into itself", ErrInvalidTransition, dup.ID)
		}
		latest, err := latestEvent(tx, canonical.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.State == database.AlertStateResolved {
			return fmt.Errorf("%w: canonical alert %d is resolved", ErrInvalidTransition, canonical.ID)
		}

		now := s.now()
		res := tx.Model(&database.Alert{}).
			Where("id = ? AND grouped_into IS NULL", dup.ID).
			Updates(map[string]interface{}{
				"grouped_into":          canonical.ID,
				"escalation_stopped_at": gorm.Expr("COALESCE(escalation_stopped_at, ?)", now),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("alert %d merged concurrently: %w", dup.ID, ErrConcurrentModification)
		}

		if err := tx.Model(&database.Alert{}).Where("id = ?", canonical.ID).
			Update("duplicate_count", gorm.Expr("duplicate_count + ?", dup.DuplicateCount)).Error; err != nil {
			return err
		}

		if err := tx.Model(&database.AlertGroup{}).
			Where("canonical_alert_id = ? AND status = ?", dup.ID, database.GroupStatusActive).
			Update("canonical_alert_id", canonical.ID).Error; err != nil {
			return err
		}

		merge = &database.AlertMerge{
			DuplicateAlertID: dup.ID,
			CanonicalAlertID: canonical.ID,
			Reason:           reason,
			MergedBy:         mergedBy,
			CreatedAt:        now,
		}
		return tx.Create(merge).Error
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Event{
		Type:      events.TypeAlertMerged,
		AlertID:   canonical.ID,
		AlertUUID: canonical.UUID,
		Data: map[string]interface{}{
			"duplicate_alert_id": dup.ID,
			"merged_by":          mergedBy,
		},
	})
	log.WithFields(log.Fields{
		"duplicate_alert_id": dup.ID,
		"canonical_alert_id": canonical.ID,
		"merged_by":          mergedBy,
	}).Info("Alert merged")
	return merge, nil
}

// Merges returns the merge audit trail for an alert, as either side
func (s *LifecycleService) Merges(ctx context.Context, alertID uint) ([]database.AlertMerge, error) {
	var merges []database.AlertMerge
	err := s.db.WithContext(ctx).
		Where("duplicate_alert_id = ? OR canonical_alert_id = ?", alertID, alertID).
		Order("created_at ASC").Find(&merges).Error
	return merges, err
}

func (s *LifecycleService) getAlert(db *gorm.DB, alertID uint) (*database.Alert, error) {
	var alert database.Alert
	if err := db.First(&alert, alertID).Error; err != nil {
		return nil, notFound(err, "alert %d", alertID)
	}
	return &alert, nil
}

// canonicalAlert follows grouped_into redirects to the alert that owns activity
func (s *LifecycleService) canonicalAlert(db *gorm.DB, alertID uint) (*database.Alert, error) {
	alert, err := s.getAlert(db, alertID)
	if err != nil {
		return nil, err
	}
	for depth := 0; alert.GroupedInto != nil; depth++ {
		if depth >= maxRedirectDepth {
			return nil, fmt.Errorf("alert %d: redirect chain too deep", alertID)
		}
		next, err := s.getAlert(db, *alert.GroupedInto)
		if err != nil {
			return nil, fmt.Errorf("redirect target of alert %d: %w", alert.ID, err)
		}
		alert = next
	}
	return alert, nil
}

// latestEvent returns the most recent event or nil when there are none
func latestEvent(db *gorm.DB, alertID uint) (*database.AlertStateEvent, error) {
	var ev database.AlertStateEvent
	err := db.Where("alert_id = ?", alertID).
		Order("timestamp DESC").Order("sequence DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func actorName(actor *string) string {
	if actor == nil {
		return ActorSystem
	}
	return *actor
}
