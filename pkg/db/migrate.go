package db

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payments-relay/pkg/db/models"
)

// Models lists every table owned by the relay.
func Models() []any {
	return []any{
		&models.ProcessedEvent{},
		&models.PurchaseRecord{},
		&models.RefundRecord{},
		&models.OutboundEvent{},
		&models.OutboundDeadLetter{},
	}
}

// AutoMigrate creates or updates the relay tables. Schema management proper is
// handled outside the service; this exists for local development and tests.
func (c *Client) AutoMigrate(ctx context.Context) error {
	if err := c.conn.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
