package services

import (
	"errors"
	"testing"

	"gorm.io/datatypes"
)

func TestAlertSourceService(t *testing.T) {
	h := newHarness(t)
	svc := NewAlertSourceService(h.db)

	inst, err := svc.CreateInstance(h.ctx, "alertmanager", "prod-prometheus", "main cluster", "s3cret",
		datatypes.JSONMap{"device_id": "labels.instance"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.UUID == "" || !inst.Enabled {
		t.Errorf("expected enabled instance with UUID, got %+v", inst)
	}

	got, err := svc.GetInstanceByUUID(h.ctx, inst.UUID)
	if err != nil {
		t.Fatalf("GetInstanceByUUID: %v", err)
	}
	if got.WebhookSecret != "s3cret" || got.FieldMappings["device_id"] != "labels.instance" {
		t.Errorf("instance did not round-trip: %+v", got)
	}

	if _, err := svc.CreateInstance(h.ctx, "pagerduty", "pd", "", "", nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown type: expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := svc.CreateInstance(h.ctx, "grafana", "", "", "", nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("blank name: expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := svc.CreateInstance(h.ctx, "grafana", "prod-prometheus", "", "", nil); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("duplicate name: expected ErrConcurrentModification, got %v", err)
	}

	if err := svc.SetEnabled(h.ctx, inst.UUID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, _ = svc.GetInstanceByUUID(h.ctx, inst.UUID)
	if got.Enabled {
		t.Error("instance should be disabled")
	}

	list, _ := svc.ListInstances(h.ctx)
	if len(list) != 1 {
		t.Errorf("expected 1 instance, got %d", len(list))
	}

	if err := svc.DeleteInstance(h.ctx, inst.UUID); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := svc.GetInstanceByUUID(h.ctx, inst.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.SetEnabled(h.ctx, inst.UUID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEnabled missing: expected ErrNotFound, got %v", err)
	}
}
