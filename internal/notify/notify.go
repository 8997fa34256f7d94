// Package notify fans dashboard notifications out to an organization's
// admins. Delivery is best-effort: a failed notification never fails the
// operation that produced it.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/logger"
)

// Store is the persistence slice the notifier needs.
type Store interface {
	ListOrgAdminIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
	InsertNotifications(ctx context.Context, notifications []model.Notification) error
}

type Notifier struct {
	store Store
	log   *logger.Logger
}

func New(store Store) *Notifier {
	return &Notifier{store: store, log: logger.With("notify")}
}

// OrgAdmins writes one notification row per org admin.
func (n *Notifier) OrgAdmins(ctx context.Context, orgID uuid.UUID, template model.Notification) {
	admins, err := n.store.ListOrgAdminIDs(ctx, orgID)
	if err != nil {
		n.log.Warn("list org admins", "org_id", orgID, "error", err)
		return
	}
	if len(admins) == 0 {
		return
	}

	rows := make([]model.Notification, 0, len(admins))
	for _, userID := range admins {
		row := template
		row.UserID = userID
		row.OrgID = orgID
		rows = append(rows, row)
	}
	if err := n.store.InsertNotifications(ctx, rows); err != nil {
		n.log.Warn("insert notifications", "org_id", orgID, "error", err)
	}
}
