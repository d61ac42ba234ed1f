package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/notify"
)

// CycleResult summarizes one escalation cycle
type CycleResult struct {
	Evaluated  int `json:"evaluated"`
	Escalated  int `json:"escalated"`
	ClaimsLost int `json:"claims_lost"`
	Failed     int `json:"failed"`
}

// PendingEscalation is an alert with a tier due now
type PendingEscalation struct {
	Alert       database.Alert           `json:"alert"`
	State       database.AlertState      `json:"state"`
	PolicyID    uint                     `json:"policy_id"`
	PolicyName  string                   `json:"policy_name"`
	NextTier    *database.EscalationTier `json:"next_tier"`
	TTADeadline *time.Time               `json:"tta_deadline,omitempty"`
	TTAOverdue  bool                     `json:"tta_overdue"`
}

// EscalationService advances alerts through their policy tiers and
// dispatches notifications. It is safe to run from several processes at
// once: each tier is claimed with a conditional update before dispatch.
type EscalationService struct {
	db        *gorm.DB
	policies  *PolicyService
	oncall    *OnCallService
	contacts  *ContactService
	notifier  notify.Notifier
	baseURL   string
	now       func() time.Time
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// NewEscalationService creates an escalation service
func NewEscalationService(db *gorm.DB, policies *PolicyService, oncall *OnCallService, contacts *ContactService, notifier notify.Notifier, baseURL string, opts ...Option) *EscalationService {
	o := applyOptions(opts)
	return &EscalationService{
		db:        db,
		policies:  policies,
		oncall:    oncall,
		contacts:  contacts,
		notifier:  notifier,
		baseURL:   strings.TrimRight(baseURL, "/"),
		now:       o.now,
		publisher: o.publisher,
		metrics:   o.metrics,
	}
}

// OnTransition permanently stops escalation once an alert is acknowledged or resolved
func (s *EscalationService) OnTransition(tx *gorm.DB, change *StateChange) error {
	if change.To != database.AlertStateAcknowledged && change.To != database.AlertStateResolved {
		return nil
	}
	err := tx.Model(&database.Alert{}).
		Where("id = ? AND escalation_stopped_at IS NULL", change.Alert.ID).
		Update("escalation_stopped_at", change.At).Error
	if err != nil {
		return fmt.Errorf("failed to stop escalation for alert %d: %w", change.Alert.ID, err)
	}
	return nil
}

// candidates returns canonical alerts still escalating, read fresh from storage
func (s *EscalationService) candidates(db *gorm.DB) ([]database.Alert, error) {
	var alerts []database.Alert
	err := db.
		Where("alerts.escalation_stopped_at IS NULL AND alerts.grouped_into IS NULL").
		Where(latestStateSQL+" IN ?", []database.AlertState{database.AlertStateNew, database.AlertStateInvestigating}).
		Order("alerts.id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation candidates: %w", err)
	}
	return alerts, nil
}

// RunCycle evaluates every escalating alert once, spreading the work over
// workers goroutines. A failure on one alert is logged and counted, never
// aborting the rest of the cycle.
func (s *EscalationService) RunCycle(ctx context.Context, workers int) (*CycleResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveCycle(time.Since(started).Seconds()) }()

	result := &CycleResult{}
	db := s.db.WithContext(ctx)

	settings, err := database.GetOrCreateEngineSettings(db)
	if err != nil {
		return result, fmt.Errorf("failed to load engine settings: %w", err)
	}
	if !settings.EscalationEnabled {
		log.Debug("Escalation disabled, skipping cycle")
		return result, nil
	}

	alerts, err := s.candidates(db)
	if err != nil {
		return result, err
	}
	result.Evaluated = len(alerts)
	if len(alerts) == 0 {
		return result, nil
	}

	now := s.now()
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range alerts {
		alert := &alerts[i]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			escalated, err := s.processAlertSafe(gctx, alert, now, settings.NotificationsEnabled)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrConcurrentModification):
				result.ClaimsLost++
			case err != nil:
				result.Failed++
				log.WithFields(log.Fields{"alert_id": alert.ID}).WithError(err).Error("Escalation failed")
			case escalated:
				result.Escalated++
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Escalated > 0 || result.Failed > 0 || result.ClaimsLost > 0 {
		log.WithFields(log.Fields{
			"evaluated":   result.Evaluated,
			"escalated":   result.Escalated,
			"claims_lost": result.ClaimsLost,
			"failed":      result.Failed,
		}).Info("Escalation cycle completed")
	}
	return result, ctx.Err()
}

func (s *EscalationService) processAlertSafe(ctx context.Context, alert *database.Alert, now time.Time, deliver bool) (escalated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"alert_id": alert.ID,
				"panic":    r,
			}).Errorf("Recovered from panic in escalation\n%s", debug.Stack())
			err = fmt.Errorf("panic escalating alert %d: %v", alert.ID, r)
		}
	}()
	return s.processAlert(ctx, alert, now, deliver)
}

func (s *EscalationService) processAlert(ctx context.Context, alert *database.Alert, now time.Time, deliver bool) (bool, error) {
	policy, err := s.policies.PolicyFor(ctx, alert)
	if err != nil {
		return false, err
	}
	if policy == nil {
		return false, nil
	}
	tier, ok := NextTier(policy, alert, now)
	if !ok {
		return false, nil
	}

	if err := s.claimTier(ctx, alert, tier.TierNumber, now); err != nil {
		return false, err
	}

	s.dispatch(ctx, alert, tier, now, deliver)

	s.metrics.Escalated(strconv.Itoa(tier.TierNumber))
	s.publisher.Publish(events.Event{
		Type:      events.TypeEscalation,
		AlertID:   alert.ID,
		AlertUUID: alert.UUID,
		Timestamp: now,
		Data: map[string]interface{}{
			"tier":     tier.TierNumber,
			"policy":   policy.Name,
			"channels": tier.Channels,
		},
	})
	log.WithFields(log.Fields{
		"alert_id": alert.ID,
		"policy":   policy.Name,
		"tier":     tier.TierNumber,
	}).Info("Alert escalated")
	return true, nil
}

// claimTier advances the alert's tier only if nobody else has moved it
// since it was read and escalation has not been stopped meanwhile
func (s *EscalationService) claimTier(ctx context.Context, alert *database.Alert, tierNumber int, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&database.Alert{}).
		Where("id = ? AND current_escalation_tier = ? AND escalation_stopped_at IS NULL AND grouped_into IS NULL",
			alert.ID, alert.CurrentEscalationTier).
		Updates(map[string]interface{}{
			"current_escalation_tier": tierNumber,
			"last_escalation_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to claim tier %d for alert %d: %w", tierNumber, alert.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		s.metrics.ClaimLost()
		log.WithFields(log.Fields{
			"alert_id": alert.ID,
			"tier":     tierNumber,
		}).Debug("Escalation claim lost")
		return fmt.Errorf("tier %d of alert %d: %w", tierNumber, alert.ID, ErrConcurrentModification)
	}
	alert.CurrentEscalationTier = tierNumber
	alert.LastEscalationAt = &now
	return nil
}

// dispatch notifies every channel of the tier. Delivery failures are
// recorded but never undo the claimed tier.
func (s *EscalationService) dispatch(ctx context.Context, alert *database.Alert, tier *database.EscalationTier, now time.Time, deliver bool) {
	recipients := s.ResolveTargets(ctx, tier.Targets, now)
	payload := notify.Payload{
		AlertID:    alert.ID,
		AlertUUID:  alert.UUID,
		Severity:   string(alert.Severity),
		DeviceID:   alert.DeviceID,
		Metric:     alert.Metric,
		Message:    alert.Message,
		TierNumber: tier.TierNumber,
		DeepLink:   s.DeepLink(alert),
		Recipients: recipients,
		CreatedAt:  alert.CreatedAt,
	}

	for _, channel := range tier.Channels {
		ch, err := notify.ParseChannel(channel)
		if err != nil {
			s.record(ctx, alert.ID, tier.TierNumber, channel, "", database.NotificationFailed, err)
			continue
		}
		if !ch.PerRecipient() {
			s.send(ctx, ch, strings.Join(recipients, ","), payload, deliver)
			continue
		}
		for _, user := range recipients {
			addr, err := s.contacts.AddressFor(ctx, user, ch.Kind)
			if err != nil {
				s.record(ctx, alert.ID, tier.TierNumber, channel, user, database.NotificationFailed, err)
				continue
			}
			if addr == "" {
				log.WithFields(log.Fields{
					"alert_id": alert.ID,
					"user":     user,
					"channel":  channel,
				}).Warn("No contact address for recipient, skipping")
				s.record(ctx, alert.ID, tier.TierNumber, channel, user, database.NotificationSkipped,
					fmt.Errorf("no %s address for %s", ch.Kind, user))
				continue
			}
			s.send(ctx, ch, addr, payload, deliver)
		}
	}
}

func (s *EscalationService) send(ctx context.Context, ch notify.Channel, recipient string, p notify.Payload, deliver bool) {
	if !deliver || s.notifier == nil {
		s.record(ctx, p.AlertID, p.TierNumber, ch.String(), recipient, database.NotificationSkipped, errors.New("notifications disabled"))
		return
	}
	if err := s.notifier.Notify(ctx, recipient, ch.String(), p); err != nil {
		log.WithFields(log.Fields{
			"alert_id":  p.AlertID,
			"tier":      p.TierNumber,
			"channel":   ch.String(),
			"recipient": recipient,
		}).WithError(err).Warn("Notification failed")
		s.record(ctx, p.AlertID, p.TierNumber, ch.String(), recipient, database.NotificationFailed, err)
		return
	}
	s.record(ctx, p.AlertID, p.TierNumber, ch.String(), recipient, database.NotificationSent, nil)
}

func (s *EscalationService) record(ctx context.Context, alertID uint, tier int, channel, recipient string, status database.NotificationStatus, sendErr error) {
	entry := &database.NotificationLog{
		AlertID:    alertID,
		TierNumber: tier,
		Channel:    channel,
		Recipient:  recipient,
		Status:     status,
		SentAt:     s.now(),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.WithField("alert_id", alertID).WithError(err).Error("Failed to record notification")
	}

	kind := channel
	if ch, err := notify.ParseChannel(channel); err == nil {
		kind = ch.Kind
	}
	s.metrics.Notified(kind, string(status))
}

// ResolveTargets expands tier targets into user IDs. oncall:<schedule>
// targets resolve through the on-call scheduler; nobody on call yields no
// users rather than an error. Duplicates are dropped, order is kept.
func (s *EscalationService) ResolveTargets(ctx context.Context, targets []string, at time.Time) []string {
	seen := make(map[string]bool)
	var users []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}
	for _, target := range targets {
		name, isSchedule := strings.CutPrefix(target, OnCallTargetPrefix)
		if !isSchedule {
			add(target)
			continue
		}
		onCall, err := s.oncall.ResolveByName(ctx, name, at)
		if err != nil {
			log.WithFields(log.Fields{"schedule": name}).WithError(err).Warn("Failed to resolve on-call target")
			continue
		}
		for _, u := range onCall {
			add(u)
		}
	}
	return users
}

// DeepLink returns the dashboard URL for an alert
func (s *EscalationService) DeepLink(alert *database.Alert) string {
	return s.baseURL + "/alerts/" + alert.UUID
}

// PendingEscalations lists escalating alerts with a tier due now
func (s *EscalationService) PendingEscalations(ctx context.Context) ([]PendingEscalation, error) {
	db := s.db.WithContext(ctx)
	alerts, err := s.candidates(db.Preload("SLA"))
	if err != nil {
		return nil, err
	}
	states, err := projectStates(db, alerts)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var pending []PendingEscalation
	for _, alert := range alerts {
		policy, err := s.policies.PolicyFor(ctx, &alert)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			continue
		}
		tier, ok := NextTier(policy, &alert, now)
		if !ok {
			continue
		}
		p := PendingEscalation{
			Alert:      alert,
			State:      states[alert.ID],
			PolicyID:   policy.ID,
			PolicyName: policy.Name,
			NextTier:   tier,
		}
		if alert.SLA != nil {
			deadline := TTADeadline(alert.SLA)
			p.TTADeadline = &deadline
			p.TTAOverdue = now.After(deadline)
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// NotificationLog returns every dispatch attempt for an alert, oldest first
func (s *EscalationService) NotificationLog(ctx context.Context, alertID uint) ([]database.NotificationLog, error) {
	var entries []database.NotificationLog
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).
		Order("sent_at ASC").Order("id ASC").Find(&entries).Error
	return entries, err
}
