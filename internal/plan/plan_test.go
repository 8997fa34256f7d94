package plan

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

type stubOrgLoader struct{ org *model.Organization }

func (s *stubOrgLoader) GetOrganization(context.Context, uuid.UUID) (*model.Organization, error) {
	return s.org, nil
}

func TestGetDefaultsToStarter(t *testing.T) {
	for _, id := range []string{"", "enterprise", "legacy-v1"} {
		if got := Get(id); got.ID != "starter" {
			t.Errorf("Get(%q) = %s, want starter", id, got.ID)
		}
	}
	if got := Get("pro"); got.SmartSendsPerMonth != Unlimited {
		t.Errorf("pro smart sends = %d, want Unlimited", got.SmartSendsPerMonth)
	}
}

func TestSubscriptionAlive(t *testing.T) {
	cases := map[string]bool{
		"active":    true,
		"trialing":  true,
		"past_due":  false,
		"cancelled": false,
		"":          false,
	}
	for status, want := range cases {
		org := &model.Organization{SubscriptionStatus: status}
		if got := SubscriptionAlive(org); got != want {
			t.Errorf("SubscriptionAlive(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestCanSmartSend(t *testing.T) {
	tests := []struct {
		name string
		org  model.Organization
		want bool
	}{
		{"quota left", model.Organization{SubscriptionStatus: "active", PlanID: "starter", SmartSendsUsed: 99}, true},
		{"quota exhausted", model.Organization{SubscriptionStatus: "active", PlanID: "starter", SmartSendsUsed: 100}, false},
		{"unlimited plan", model.Organization{SubscriptionStatus: "active", PlanID: "pro", SmartSendsUsed: 1_000_000}, true},
		{"dead subscription blocks", model.Organization{SubscriptionStatus: "cancelled", PlanID: "pro"}, false},
		{"unknown plan gets starter quota", model.Organization{SubscriptionStatus: "active", PlanID: "mystery", SmartSendsUsed: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(&stubOrgLoader{org: &tt.org})
			got, err := gate.CanSmartSend(context.Background(), uuid.New())
			if err != nil {
				t.Fatalf("CanSmartSend: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanSmartSend = %v, want %v", got, tt.want)
			}
		})
	}
}
