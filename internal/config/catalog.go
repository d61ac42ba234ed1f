package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/services"
)

// Catalog declares escalation policies, on-call schedules and contacts
type Catalog struct {
	Policies  []PolicySpec   `yaml:"policies"`
	Schedules []ScheduleSpec `yaml:"schedules"`
	Contacts  []ContactSpec  `yaml:"contacts"`
}

type PolicySpec struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Severities  []database.Severity       `yaml:"severities"`
	Enabled     *bool                     `yaml:"enabled"`
	Tiers       []database.EscalationTier `yaml:"tiers"`
}

type ScheduleSpec struct {
	Name          string                   `yaml:"name"`
	RotationType  database.RotationType    `yaml:"rotation_type"`
	Timezone      string                   `yaml:"timezone"`
	RotationStart string                   `yaml:"rotation_start"`
	Enabled       *bool                    `yaml:"enabled"`
	Entries       []database.RotationEntry `yaml:"entries"`
}

type ContactSpec struct {
	UserID      string `yaml:"user_id"`
	Name        string `yaml:"name"`
	Email       string `yaml:"email"`
	Phone       string `yaml:"phone"`
	SlackUserID string `yaml:"slack_user_id"`
}

// LoadCatalog reads and validates a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Unknown keys, duplicate names and any
// policy or schedule that would be rejected by the services are errors.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: catalog: %v", services.ErrInvalidConfiguration, err)
	}
	if _, _, err := c.Build(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Build converts the catalog into validated models
func (c *Catalog) Build() ([]database.EscalationPolicy, []database.OnCallSchedule, error) {
	seen := make(map[string]bool)
	policies := make([]database.EscalationPolicy, 0, len(c.Policies))
	for _, spec := range c.Policies {
		p := database.EscalationPolicy{
			Name:        spec.Name,
			Description: spec.Description,
			Severities:  spec.Severities,
			Tiers:       spec.Tiers,
			Enabled:     enabled(spec.Enabled),
		}
		if err := services.ValidatePolicy(&p); err != nil {
			return nil, nil, err
		}
		if seen[p.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate policy %q", services.ErrInvalidConfiguration, p.Name)
		}
		seen[p.Name] = true
		policies = append(policies, p)
	}

	seen = make(map[string]bool)
	schedules := make([]database.OnCallSchedule, 0, len(c.Schedules))
	for _, spec := range c.Schedules {
		start, err := time.Parse(time.RFC3339, spec.RotationStart)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: schedule %q: rotation_start must be RFC3339: %v",
				services.ErrInvalidConfiguration, spec.Name, err)
		}
		s := database.OnCallSchedule{
			Name:          spec.Name,
			RotationType:  spec.RotationType,
			Timezone:      spec.Timezone,
			RotationStart: start.UTC(),
			Entries:       spec.Entries,
			Enabled:       enabled(spec.Enabled),
		}
		if err := services.ValidateSchedule(&s); err != nil {
			return nil, nil, err
		}
		if seen[s.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate schedule %q", services.ErrInvalidConfiguration, s.Name)
		}
		seen[s.Name] = true
		schedules = append(schedules, s)
	}

	seen = make(map[string]bool)
	for _, contact := range c.Contacts {
		if contact.UserID == "" {
			return nil, nil, fmt.Errorf("%w: contact without user_id", services.ErrInvalidConfiguration)
		}
		if seen[contact.UserID] {
			return nil, nil, fmt.Errorf("%w: duplicate contact %q", services.ErrInvalidConfiguration, contact.UserID)
		}
		seen[contact.UserID] = true
	}
	return policies, schedules, nil
}

// ContactModels returns the catalog contacts as models
func (c *Catalog) ContactModels() []database.Contact {
	out := make([]database.Contact, 0, len(c.Contacts))
	for _, spec := range c.Contacts {
		out = append(out, database.Contact{
			UserID:      spec.UserID,
			Name:        spec.Name,
			Email:       spec.Email,
			Phone:       spec.Phone,
			SlackUserID: spec.SlackUserID,
		})
	}
	return out
}

func enabled(b *bool) bool {
	return b == nil || *b
}
