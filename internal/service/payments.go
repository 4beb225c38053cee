package service

import (
	"context"
	"database/sql"
	"fmt"

	"mysterypack/internal/lock"
	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// Payment event constants.
const (
	EventPaymentCompleted = "payment.completed"

	KindGemPurchase  = "gem_purchase"
	KindPackPurchase = "pack_purchase"
)

// PaymentEvent is a completed payment reported by the processor webhook.
type PaymentEvent struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	UserID               string `json:"user_id"`
	Kind                 string `json:"kind"`
	PackageID            string `json:"package_id,omitempty"`
	PackID               string `json:"pack_id,omitempty"`
	AmountPaidMinorUnits int64  `json:"amount_paid_minor_units"`
}

// PaymentResult summarizes what an event did.
type PaymentResult struct {
	EventID     string      `json:"event_id"`
	Ignored     bool        `json:"ignored,omitempty"`
	Credited    int64       `json:"credited"`
	BonusGems   int64       `json:"bonus_gems"`
	Replayed    bool        `json:"replayed"`
	NewBalance  int64       `json:"new_balance"`
	PackOutcome *OpenResult `json:"pack_outcome,omitempty"`
}

// PaymentService turns processor events into ledger entries. The event id is
// the idempotency key, so redelivery is harmless.
type PaymentService struct {
	locker lock.Locker
	retry  RetryPolicy
	packs  *PackService
}

// NewPaymentService creates a new payment service
func NewPaymentService(locker lock.Locker, retry RetryPolicy, packs *PackService) *PaymentService {
	return &PaymentService{locker: locker, retry: retry, packs: packs}
}

// HandleEvent applies one payment event. Events other than completed
// payments are acknowledged and ignored.
func (s *PaymentService) HandleEvent(ctx context.Context, ev PaymentEvent) (*PaymentResult, error) {
	if ev.ID == "" {
		return nil, invalid("id", "required")
	}
	if ev.Type != EventPaymentCompleted {
		logger.Info("payment_event_ignored", fmt.Sprintf("event_id=%s type=%s", ev.ID, ev.Type))
		return &PaymentResult{EventID: ev.ID, Ignored: true}, nil
	}
	if ev.UserID == "" {
		return nil, invalid("user_id", "required")
	}

	switch ev.Kind {
	case KindGemPurchase:
		return s.gemPurchase(ctx, ev)
	case KindPackPurchase:
		return s.packPurchase(ctx, ev)
	}
	return nil, invalid("kind", fmt.Sprintf("unknown payment kind %q", ev.Kind))
}

func (s *PaymentService) gemPurchase(ctx context.Context, ev PaymentEvent) (*PaymentResult, error) {
	if ev.PackageID == "" {
		return nil, invalid("package_id", "required")
	}
	key := "payment:" + ev.ID

	result := &PaymentResult{EventID: ev.ID}
	err := inUserTx(ctx, s.locker, s.retry, "payment_gems", ev.UserID, func(tx *sql.Tx) error {
		pkg, err := storage.GetGemPackage(ctx, tx, ev.PackageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return ErrPackageNotFound
		}
		if ev.AmountPaidMinorUnits != pkg.PriceMinorUnits {
			return invalid("amount_paid_minor_units", fmt.Sprintf("paid %d, package costs %d", ev.AmountPaidMinorUnits, pkg.PriceMinorUnits))
		}

		prior, err := storage.GetTransactionByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		result.Replayed = prior != nil

		base, err := creditTx(ctx, tx, EntryRequest{
			UserID:         ev.UserID,
			Amount:         pkg.BaseGems,
			Type:           storage.TxPurchase,
			IdempotencyKey: key,
			ReferenceID:    ev.ID,
			Bucket:         BucketPurchased,
			Metadata:       map[string]string{"package_id": pkg.ID},
		})
		if err != nil {
			return err
		}
		result.Credited = base.Amount
		result.NewBalance = base.BalanceAfter

		if pkg.BonusGems > 0 {
			bonus, err := creditTx(ctx, tx, EntryRequest{
				UserID:         ev.UserID,
				Amount:         pkg.BonusGems,
				Type:           storage.TxBonus,
				IdempotencyKey: key + ":bonus",
				ReferenceID:    ev.ID,
				Bucket:         BucketPromotional,
				Metadata:       map[string]string{"package_id": pkg.ID},
			})
			if err != nil {
				return err
			}
			result.BonusGems = bonus.Amount
			result.NewBalance = bonus.BalanceAfter
		}
		if result.Replayed {
			a, err := loadAccount(ctx, tx, ev.UserID)
			if err != nil {
				return err
			}
			result.NewBalance = a.Spendable()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("payment_applied", fmt.Sprintf("event_id=%s user_id=%s package_id=%s gems=%d bonus=%d replayed=%t",
		ev.ID, ev.UserID, ev.PackageID, result.Credited, result.BonusGems, result.Replayed))
	return result, nil
}

func (s *PaymentService) packPurchase(ctx context.Context, ev PaymentEvent) (*PaymentResult, error) {
	if ev.PackID == "" {
		return nil, invalid("pack_id", "required")
	}
	key := "payment:" + ev.ID

	result := &PaymentResult{EventID: ev.ID}
	err := inUserTx(ctx, s.locker, s.retry, "payment_pack", ev.UserID, func(tx *sql.Tx) error {
		pack, err := storage.GetPack(ctx, tx, ev.PackID)
		if err != nil {
			return err
		}
		if pack == nil {
			return ErrPackNotFound
		}
		prior, err := storage.GetTransactionByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		result.Replayed = prior != nil

		credit, err := creditTx(ctx, tx, EntryRequest{
			UserID:         ev.UserID,
			Amount:         pack.GemCost,
			Type:           storage.TxPurchase,
			IdempotencyKey: key,
			ReferenceID:    ev.ID,
			Bucket:         BucketPurchased,
			Metadata:       map[string]string{"pack_id": pack.ID, "amount_paid_minor_units": fmt.Sprint(ev.AmountPaidMinorUnits)},
		})
		if err != nil {
			return err
		}
		result.Credited = credit.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	opened, err := s.packs.Open(ctx, OpenRequest{UserID: ev.UserID, PackID: ev.PackID, IdempotencyKey: key})
	if err != nil {
		return nil, fmt.Errorf("open purchased pack: %w", err)
	}
	result.PackOutcome = opened
	result.NewBalance = opened.NewBalance
	logger.Info("payment_applied", fmt.Sprintf("event_id=%s user_id=%s pack_id=%s outcome_id=%s replayed=%t",
		ev.ID, ev.UserID, ev.PackID, opened.OutcomeID, result.Replayed))
	return result, nil
}
