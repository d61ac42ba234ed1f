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
	"github.com/akmatori/alertflow/internal/notify"
)

// OnCallTargetPrefix marks a tier target that names an on-call schedule
const OnCallTargetPrefix = "oncall:"

const enabledPoliciesKey = "policies:enabled"

// ValidatePolicy rejects malformed tiers: tier numbers must start at 1 and
// strictly increase, delays must not decrease, and every tier needs at
// least one target and one known channel.
func ValidatePolicy(p *database.EscalationPolicy) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalidConfig("policy name is required")
	}
	if len(p.Tiers) == 0 {
		return invalidConfig("policy %q has no tiers", p.Name)
	}
	if len(p.Severities) == 0 {
		return invalidConfig("policy %q applies to no severities", p.Name)
	}
	for _, sev := range p.Severities {
		if !sev.IsValid() {
			return invalidConfig("policy %q: unknown severity %q", p.Name, sev)
		}
	}

	prevNumber, prevDelay := 0, 0
	for i, tier := range p.Tiers {
		if tier.TierNumber <= prevNumber {
			return invalidConfig("policy %q: tier %d number %d must be greater than %d", p.Name, i, tier.TierNumber, prevNumber)
		}
		if tier.DelayMinutes < 0 {
			return invalidConfig("policy %q: tier %d has a negative delay", p.Name, tier.TierNumber)
		}
		if i > 0 && tier.DelayMinutes < prevDelay {
			return invalidConfig("policy %q: tier %d delay %d is less than the previous tier's %d", p.Name, tier.TierNumber, tier.DelayMinutes, prevDelay)
		}
		if len(tier.Channels) == 0 {
			return invalidConfig("policy %q: tier %d has no channels", p.Name, tier.TierNumber)
		}
		for _, ch := range tier.Channels {
			if _, err := notify.ParseChannel(ch); err != nil {
				return invalidConfig("policy %q: tier %d: %v", p.Name, tier.TierNumber, err)
			}
		}
		if len(tier.Targets) == 0 {
			return invalidConfig("policy %q: tier %d has no targets", p.Name, tier.TierNumber)
		}
		for _, target := range tier.Targets {
			name := strings.TrimPrefix(target, OnCallTargetPrefix)
			if strings.TrimSpace(name) == "" {
				return invalidConfig("policy %q: tier %d has an empty target", p.Name, tier.TierNumber)
			}
		}
		prevNumber, prevDelay = tier.TierNumber, tier.DelayMinutes
	}
	return nil
}

// DefaultCacheTTL bounds how stale cached policies and schedules may be
// when another process edits them
const DefaultCacheTTL = 30 * time.Second

// PolicyService manages escalation policies and matches them to alerts
type PolicyService struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewPolicyService creates a policy service. Enabled policies are cached for ttl.
func NewPolicyService(db *gorm.DB, ttl time.Duration) *PolicyService {
	return &PolicyService{db: db, cache: cache.New(ttl, 0)}
}

// List returns all policies ordered by ID
func (s *PolicyService) List(ctx context.Context) ([]database.EscalationPolicy, error) {
	var policies []database.EscalationPolicy
	err := s.db.WithContext(ctx).Order("id ASC").Find(&policies).Error
	return policies, err
}

// Get returns a policy by ID
func (s *PolicyService) Get(ctx context.Context, id uint) (*database.EscalationPolicy, error) {
	var p database.EscalationPolicy
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "escalation policy %d", id)
	}
	return &p, nil
}

// GetByName returns a policy by name
func (s *PolicyService) GetByName(ctx context.Context, name string) (*database.EscalationPolicy, error) {
	var p database.EscalationPolicy
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err, "escalation policy %q", name)
	}
	return &p, nil
}

// Create validates and stores a new policy
func (s *PolicyService) Create(ctx context.Context, p *database.EscalationPolicy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	p.ID = 0
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return conflict(err, "escalation policy %q already exists", p.Name)
	}
	s.invalidate()
	return nil
}

// Update replaces a policy's definition
func (s *PolicyService) Update(ctx context.Context, id uint, p *database.EscalationPolicy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return conflict(err, "escalation policy %q already exists", p.Name)
	}
	s.invalidate()
	return nil
}

// Upsert creates or replaces a policy by name
func (s *PolicyService) Upsert(ctx context.Context, p *database.EscalationPolicy) error {
	existing, err := s.GetByName(ctx, p.Name)
	if errors.Is(err, ErrNotFound) {
		return s.Create(ctx, p)
	}
	if err != nil {
		return err
	}
	return s.Update(ctx, existing.ID, p)
}

// Delete removes a policy. Alerts that referenced it fall back to severity matching.
func (s *PolicyService) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Alert{}).Where("escalation_policy_id = ?", id).
			Update("escalation_policy_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&database.EscalationPolicy{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("escalation policy %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// PolicyFor returns the policy governing an alert: its explicit policy when
// set and enabled, otherwise the first enabled policy (by ID) listing its
// severity. A disabled explicit policy falls back the same way a deleted one
// does. A nil policy with a nil error means the alert is never escalated.
func (s *PolicyService) PolicyFor(ctx context.Context, alert *database.Alert) (*database.EscalationPolicy, error) {
	policies, err := s.enabledPolicies(ctx)
	if err != nil {
		return nil, err
	}
	if alert.EscalationPolicyID != nil {
		for i := range policies {
			if policies[i].ID == *alert.EscalationPolicyID {
				return &policies[i], nil
			}
		}
	}
	return matchPolicy(policies, alert.Severity), nil
}

// MatchPolicy returns the first enabled policy for a severity, or nil
func (s *PolicyService) MatchPolicy(ctx context.Context, sev database.Severity) (*database.EscalationPolicy, error) {
	policies, err := s.enabledPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return matchPolicy(policies, sev), nil
}

func matchPolicy(policies []database.EscalationPolicy, sev database.Severity) *database.EscalationPolicy {
	for i := range policies {
		if policies[i].AppliesTo(sev) {
			return &policies[i]
		}
	}
	return nil
}

func (s *PolicyService) enabledPolicies(ctx context.Context) ([]database.EscalationPolicy, error) {
	if cached, ok := s.cache.Get(enabledPoliciesKey); ok {
		return cached.([]database.EscalationPolicy), nil
	}
	var policies []database.EscalationPolicy
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("failed to load escalation policies: %w", err)
	}
	s.cache.Set(enabledPoliciesKey, policies, cache.DefaultExpiration)
	return policies, nil
}

func (s *PolicyService) invalidate() {
	s.cache.Delete(enabledPoliciesKey)
}

// NextTier returns the highest tier that is due at now and has not fired yet.
// Lower tiers that were skipped (e.g. the engine was down) are not replayed.
func NextTier(policy *database.EscalationPolicy, alert *database.Alert, now time.Time) (*database.EscalationTier, bool) {
	elapsed := elapsedMinutes(alert.CreatedAt, now)
	var next *database.EscalationTier
	for i := range policy.Tiers {
		tier := &policy.Tiers[i]
		if float64(tier.DelayMinutes) <= elapsed && tier.TierNumber > alert.CurrentEscalationTier {
			if next == nil || tier.TierNumber > next.TierNumber {
				next = tier
			}
		}
	}
	return next, next != nil
}
