// Package plan holds the billing plan catalog and the gates the sending
// engine consults: is the subscription alive, and is there smart-send
// quota left this month.
package plan

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

// Unlimited disables a quota check.
const Unlimited = -1

// Plan is one pricing tier.
type Plan struct {
	ID                 string
	Name               string
	SmartSendsPerMonth int
	EmailAccounts      int
	ActiveCampaigns    int
}

var catalog = map[string]Plan{
	"starter": {ID: "starter", Name: "Starter", SmartSendsPerMonth: 100, EmailAccounts: 2, ActiveCampaigns: 3},
	"growth":  {ID: "growth", Name: "Growth", SmartSendsPerMonth: 1000, EmailAccounts: 10, ActiveCampaigns: 20},
	"pro":     {ID: "pro", Name: "Pro", SmartSendsPerMonth: Unlimited, EmailAccounts: Unlimited, ActiveCampaigns: Unlimited},
}

// Get returns the plan for an id, defaulting unknown ids to starter so a
// missing or stale plan_id never unlocks pro features.
func Get(id string) Plan {
	if p, ok := catalog[id]; ok {
		return p
	}
	return catalog["starter"]
}

// SubscriptionAlive reports whether the org may send at all.
func SubscriptionAlive(org *model.Organization) bool {
	switch org.SubscriptionStatus {
	case "active", "trialing":
		return true
	default:
		return false
	}
}

// OrgLoader is the slice of the store the gate needs.
type OrgLoader interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error)
}

// Gate answers plan questions against live org state.
type Gate struct {
	orgs OrgLoader
}

func NewGate(orgs OrgLoader) *Gate {
	return &Gate{orgs: orgs}
}

// CanSend reports whether the org's subscription allows sending at all.
func (g *Gate) CanSend(ctx context.Context, orgID uuid.UUID) (bool, error) {
	org, err := g.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return false, err
	}
	return SubscriptionAlive(org), nil
}

// CanSmartSend reports whether the org may burn one smart send right now.
// A dead subscription also blocks it.
func (g *Gate) CanSmartSend(ctx context.Context, orgID uuid.UUID) (bool, error) {
	org, err := g.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return false, err
	}
	if !SubscriptionAlive(org) {
		return false, nil
	}
	p := Get(org.PlanID)
	if p.SmartSendsPerMonth == Unlimited {
		return true, nil
	}
	return org.SmartSendsUsed < p.SmartSendsPerMonth, nil
}
