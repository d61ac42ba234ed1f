package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/notify"
)

// ContactService maps user IDs to delivery addresses
type ContactService struct {
	db *gorm.DB
}

// NewContactService creates a new contact service
func NewContactService(db *gorm.DB) *ContactService {
	return &ContactService{db: db}
}

// List returns all contacts ordered by user ID
func (s *ContactService) List(ctx context.Context) ([]database.Contact, error) {
	var contacts []database.Contact
	err := s.db.WithContext(ctx).Order("user_id ASC").Find(&contacts).Error
	return contacts, err
}

// Get returns a contact by user ID
func (s *ContactService) Get(ctx context.Context, userID string) (*database.Contact, error) {
	var c database.Contact
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, notFound(err, "contact %q", userID)
	}
	return &c, nil
}

// Upsert creates or replaces the contact for c.UserID
func (s *ContactService) Upsert(ctx context.Context, c *database.Contact) error {
	if strings.TrimSpace(c.UserID) == "" {
		return invalidConfig("contact user id is required")
	}
	existing, err := s.Get(ctx, c.UserID)
	if errors.Is(err, ErrNotFound) {
		c.ID = 0
		if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
			return conflict(err, "contact %q already exists", c.UserID)
		}
		return nil
	}
	if err != nil {
		return err
	}
	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	return s.db.WithContext(ctx).Save(c).Error
}

// Delete removes a contact
func (s *ContactService) Delete(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&database.Contact{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("contact %q: %w", userID, ErrNotFound)
	}
	return nil
}

// AddressFor returns the address a per-recipient channel kind should use.
// An empty address with a nil error means the user cannot be reached on
// that kind and should be skipped.
func (s *ContactService) AddressFor(ctx context.Context, userID, kind string) (string, error) {
	c, err := s.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	switch kind {
	case notify.KindEmail:
		return c.Email, nil
	case notify.KindSMS:
		return c.Phone, nil
	case notify.KindSlack:
		return c.SlackUserID, nil
	}
	return "", nil
}
