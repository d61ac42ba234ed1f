package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/metrics"
)

// SLATarget holds response targets in minutes
type SLATarget struct {
	TTAMinutes int `json:"tta_minutes"`
	TTRMinutes int `json:"ttr_minutes"`
}

var slaTargets = map[database.Severity]SLATarget{
	database.SeverityCritical: {TTAMinutes: 5, TTRMinutes: 30},
	database.SeverityHigh:     {TTAMinutes: 15, TTRMinutes: 120},
	database.SeverityMedium:   {TTAMinutes: 60, TTRMinutes: 480},
	database.SeverityLow:      {TTAMinutes: 240, TTRMinutes: 1440},
	database.SeverityInfo:     {TTAMinutes: 1440, TTRMinutes: 10080},
}

// TargetsFor returns the fixed SLA targets for a severity
func TargetsFor(sev database.Severity) (SLATarget, bool) {
	t, ok := slaTargets[sev]
	return t, ok
}

// NewAlertSLA builds the SLA row for a freshly created alert
func NewAlertSLA(alert *database.Alert) (*database.AlertSLA, error) {
	target, ok := TargetsFor(alert.Severity)
	if !ok {
		return nil, invalidConfig("no SLA targets for severity %q", alert.Severity)
	}
	return &database.AlertSLA{
		AlertID:          alert.ID,
		Severity:         alert.Severity,
		TTATargetMinutes: target.TTAMinutes,
		TTRTargetMinutes: target.TTRMinutes,
		CreatedAt:        alert.CreatedAt,
	}, nil
}

// elapsedMinutes never goes negative, even for alerts stamped slightly in the future
func elapsedMinutes(from, to time.Time) float64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// SLATracker records TTA/TTR actuals as alerts move through their lifecycle
type SLATracker struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewSLATracker creates a new SLA tracker
func NewSLATracker(db *gorm.DB, opts ...Option) *SLATracker {
	o := applyOptions(opts)
	return &SLATracker{db: db, metrics: o.metrics}
}

// OnTransition stamps acknowledgment (first one wins) and resolution
func (t *SLATracker) OnTransition(tx *gorm.DB, change *StateChange) error {
	if change.To != database.AlertStateAcknowledged && change.To != database.AlertStateResolved {
		return nil
	}

	var sla database.AlertSLA
	if err := tx.Where("alert_id = ?", change.Alert.ID).First(&sla).Error; err != nil {
		return notFound(err, "sla for alert %d", change.Alert.ID)
	}

	elapsed := elapsedMinutes(change.Alert.CreatedAt, change.At)
	updates := map[string]interface{}{}
	var breachKind string

	switch change.To {
	case database.AlertStateAcknowledged:
		if sla.AcknowledgedAt != nil {
			return nil
		}
		breached := elapsed > float64(sla.TTATargetMinutes)
		updates["tta_actual_minutes"] = elapsed
		updates["tta_breached"] = breached
		updates["acknowledged_at"] = change.At
		if breached {
			breachKind = "tta"
		}
	case database.AlertStateResolved:
		breached := elapsed > float64(sla.TTRTargetMinutes)
		updates["ttr_actual_minutes"] = elapsed
		updates["ttr_breached"] = breached
		updates["resolved_at"] = change.At
		if breached {
			breachKind = "ttr"
		}
	}

	if err := tx.Model(&database.AlertSLA{}).Where("id = ?", sla.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update sla for alert %d: %w", change.Alert.ID, err)
	}

	if breachKind != "" {
		severity := string(sla.Severity)
		alertID := change.Alert.ID
		change.AfterCommit(func() {
			t.metrics.Breached(breachKind, severity)
			log.WithFields(log.Fields{
				"alert_id": alertID,
				"kind":     breachKind,
				"severity": severity,
				"minutes":  fmt.Sprintf("%.1f", elapsed),
			}).Warn("SLA target breached")
		})
	}
	return nil
}

// Get returns the SLA row for an alert
func (t *SLATracker) Get(ctx context.Context, alertID uint) (*database.AlertSLA, error) {
	var sla database.AlertSLA
	if err := t.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&sla).Error; err != nil {
		return nil, notFound(err, "sla for alert %d", alertID)
	}
	return &sla, nil
}

// SeverityCompliance is one row of the compliance report. Means and
// percentages are nil when nothing in the row has an actual yet.
type SeverityCompliance struct {
	Severity         database.Severity `json:"severity"`
	TTATargetMinutes int               `json:"tta_target_minutes"`
	TTRTargetMinutes int               `json:"ttr_target_minutes"`
	Total            int64             `json:"total"`
	Acknowledged     int64             `json:"acknowledged"`
	Resolved         int64             `json:"resolved"`
	TTABreaches      int64             `json:"tta_breaches"`
	TTRBreaches      int64             `json:"ttr_breaches"`
	MeanTTAMinutes   *float64          `json:"mean_tta_minutes"`
	MeanTTRMinutes   *float64          `json:"mean_ttr_minutes"`
	TTACompliancePct *float64          `json:"tta_compliance_pct"`
	TTRCompliancePct *float64          `json:"ttr_compliance_pct"`
	CompliancePct    *float64          `json:"compliance_pct"`
}

type complianceRow struct {
	Severity     string   `gorm:"column:severity"`
	Total        int64    `gorm:"column:total"`
	Acknowledged int64    `gorm:"column:acknowledged"`
	Resolved     int64    `gorm:"column:resolved"`
	TTABreaches  int64    `gorm:"column:tta_breaches"`
	TTRBreaches  int64    `gorm:"column:ttr_breaches"`
	MeanTTA      *float64 `gorm:"column:mean_tta"`
	MeanTTR      *float64 `gorm:"column:mean_ttr"`
}

// ComplianceReport aggregates SLA rows per severity for alerts created in
// [from, to). Zero values for from/to leave that side open. Merged
// duplicates are excluded since their activity belongs to the canonical alert.
func (t *SLATracker) ComplianceReport(ctx context.Context, from, to time.Time) ([]SeverityCompliance, error) {
	q := t.db.WithContext(ctx).
		Table("alert_slas").
		Select(`alert_slas.severity AS severity,
			COUNT(*) AS total,
			SUM(CASE WHEN alert_slas.acknowledged_at IS NOT NULL THEN 1 ELSE 0 END) AS acknowledged,
			SUM(CASE WHEN alert_slas.resolved_at IS NOT NULL THEN 1 ELSE 0 END) AS resolved,
			SUM(CASE WHEN alert_slas.tta_breached THEN 1 ELSE 0 END) AS tta_breaches,
			SUM(CASE WHEN alert_slas.ttr_breached THEN 1 ELSE 0 END) AS ttr_breaches,
			AVG(alert_slas.tta_actual_minutes) AS mean_tta,
			AVG(alert_slas.ttr_actual_minutes) AS mean_ttr`).
		Joins("JOIN alerts ON alerts.id = alert_slas.alert_id").
		Where("alerts.grouped_into IS NULL")
	if !from.IsZero() {
		q = q.Where("alert_slas.created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("alert_slas.created_at < ?", to)
	}

	var rows []complianceRow
	if err := q.Group("alert_slas.severity").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate sla compliance: %w", err)
	}

	bySeverity := make(map[database.Severity]complianceRow, len(rows))
	for _, r := range rows {
		bySeverity[database.Severity(r.Severity)] = r
	}

	report := make([]SeverityCompliance, 0, len(slaTargets))
	for _, sev := range database.ValidSeverities() {
		target := slaTargets[sev]
		r := bySeverity[sev]
		report = append(report, SeverityCompliance{
			Severity:         sev,
			TTATargetMinutes: target.TTAMinutes,
			TTRTargetMinutes: target.TTRMinutes,
			Total:            r.Total,
			Acknowledged:     r.Acknowledged,
			Resolved:         r.Resolved,
			TTABreaches:      r.TTABreaches,
			TTRBreaches:      r.TTRBreaches,
			MeanTTAMinutes:   r.MeanTTA,
			MeanTTRMinutes:   r.MeanTTR,
			TTACompliancePct: percentage(r.Acknowledged-r.TTABreaches, r.Acknowledged),
			TTRCompliancePct: percentage(r.Resolved-r.TTRBreaches, r.Resolved),
			CompliancePct: percentage(
				(r.Acknowledged-r.TTABreaches)+(r.Resolved-r.TTRBreaches),
				r.Acknowledged+r.Resolved,
			),
		})
	}
	return report, nil
}

// percentage returns nil on a zero denominator
func percentage(num, denom int64) *float64 {
	if denom <= 0 {
		return nil
	}
	p := 100 * float64(num) / float64(denom)
	return &p
}

// TTADeadline returns when the alert breaches its acknowledgment target
func TTADeadline(sla *database.AlertSLA) time.Time {
	return sla.CreatedAt.Add(time.Duration(sla.TTATargetMinutes) * time.Minute)
}
