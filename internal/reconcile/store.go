package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/payments-relay/internal/repo"
	"github.com/angelmondragon/payments-relay/pkg/db"
	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"gorm.io/gorm"
)

// Store persists reconciled records. Save methods report false when the
// record already exists.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	SavePurchase(ctx context.Context, record PurchaseRecord) (bool, error)
	SaveRefund(ctx context.Context, record RefundRecord) (bool, error)
	PurchaseByPaymentIntent(ctx context.Context, paymentIntent string) (*PurchaseRecord, error)
}

type GormStore struct {
	repo.Base
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{Base: repo.NewBase(conn)}
}

func (s *GormStore) SavePurchase(ctx context.Context, record PurchaseRecord) (bool, error) {
	row := record.model()
	err := s.insert(ctx, &row)
	if db.IsUniqueViolation(err, "ux_purchase_records_transaction_id") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert purchase record: %w", err)
	}
	return true, nil
}

func (s *GormStore) SaveRefund(ctx context.Context, record RefundRecord) (bool, error) {
	row := record.model()
	err := s.insert(ctx, &row)
	if db.IsUniqueViolation(err, "ux_refund_records_refund_key") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert refund record: %w", err)
	}
	return true, nil
}

func (s *GormStore) PurchaseByPaymentIntent(ctx context.Context, paymentIntent string) (*PurchaseRecord, error) {
	if paymentIntent == "" {
		return nil, nil
	}
	var row models.PurchaseRecord
	err := s.DB(ctx).Where("payment_intent = ?", paymentIntent).Order("id").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find purchase by payment intent: %w", err)
	}
	record := purchaseFromModel(row)
	return &record, nil
}

// insert runs under a savepoint so a unique violation leaves an enclosing
// postgres transaction usable.
func (s *GormStore) insert(ctx context.Context, row any) error {
	return s.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
}
