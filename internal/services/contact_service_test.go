package services

import (
	"errors"
	"testing"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/notify"
)

func TestContactService_UpsertAndAddressFor(t *testing.T) {
	h := newHarness(t)
	c := &database.Contact{UserID: "alice", Name: "Alice", Email: "alice@example.com", Phone: "+15550100"}
	if err := h.contacts.Upsert(h.ctx, c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tests := []struct {
		user string
		kind string
		want string
	}{
		{"alice", notify.KindEmail, "alice@example.com"},
		{"alice", notify.KindSMS, "+15550100"},
		{"alice", notify.KindSlack, ""},
		{"alice", notify.KindWebhook, ""},
		{"nobody", notify.KindEmail, ""},
	}
	for _, tt := range tests {
		got, err := h.contacts.AddressFor(h.ctx, tt.user, tt.kind)
		if err != nil {
			t.Fatalf("AddressFor(%s, %s): %v", tt.user, tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("AddressFor(%s, %s) = %q, want %q", tt.user, tt.kind, got, tt.want)
		}
	}

	update := &database.Contact{UserID: "alice", Email: "alice@ops.example.com", SlackUserID: "U123"}
	if err := h.contacts.Upsert(h.ctx, update); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	if update.ID != c.ID {
		t.Errorf("upsert should keep ID %d, got %d", c.ID, update.ID)
	}
	if got, _ := h.contacts.AddressFor(h.ctx, "alice", notify.KindSlack); got != "U123" {
		t.Errorf("slack address = %q", got)
	}
	if got, _ := h.contacts.AddressFor(h.ctx, "alice", notify.KindSMS); got != "" {
		t.Errorf("phone should be replaced, got %q", got)
	}

	list, _ := h.contacts.List(h.ctx)
	if len(list) != 1 {
		t.Errorf("expected 1 contact, got %d", len(list))
	}
}

func TestContactService_Rejections(t *testing.T) {
	h := newHarness(t)
	if err := h.contacts.Upsert(h.ctx, &database.Contact{UserID: "  "}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("blank user: expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := h.contacts.Get(h.ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := h.contacts.Delete(h.ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}

	if err := h.contacts.Upsert(h.ctx, &database.Contact{UserID: "bob"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := h.contacts.Delete(h.ctx, "bob"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
