package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// Notifier tells a prize owner about redemption progress.
type Notifier interface {
	NotifyRedemption(outcome *storage.Outcome, prize *storage.Prize)
	NotifyResell(userID, prizeName string, amount, newBalance int64)
}

// transitions lists the allowed status moves. Resale is only reachable
// through Resell.
var transitions = map[storage.RedemptionStatus][]storage.RedemptionStatus{
	storage.StatusInInventory:       {storage.StatusPendingRedemption, storage.StatusResold},
	storage.StatusPendingRedemption: {storage.StatusShipped},
	storage.StatusShipped:           {storage.StatusDelivered},
}

func canTransition(from, to storage.RedemptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validStatus(s storage.RedemptionStatus) bool {
	switch s {
	case storage.StatusInInventory, storage.StatusPendingRedemption, storage.StatusShipped,
		storage.StatusDelivered, storage.StatusResold:
		return true
	}
	return false
}

// ownedOutcome loads an outcome and checks that userID owns it.
func ownedOutcome(ctx context.Context, q storage.Querier, userID, outcomeID string) (*storage.Outcome, error) {
	o, err := storage.GetOutcome(ctx, q, outcomeID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOutcomeNotFound
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *PackService) moveStatus(ctx context.Context, q storage.Querier, o *storage.Outcome, to storage.RedemptionStatus) error {
	if !canTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if err := storage.UpdateOutcomeStatus(ctx, q, o.ID, o.Status, to, o.ResellTxID); err != nil {
		return err
	}
	o.Status = to
	return nil
}

// Redeem asks for the physical card to be shipped.
func (s *PackService) Redeem(ctx context.Context, userID, outcomeID string) (*storage.Outcome, error) {
	if userID == "" || outcomeID == "" {
		return nil, invalid("outcome_id", "required")
	}
	var outcome *storage.Outcome
	err := inUserTx(ctx, s.locker, s.retry, "redeem", userID, func(tx *sql.Tx) error {
		o, err := ownedOutcome(ctx, tx, userID, outcomeID)
		if err != nil {
			return err
		}
		if o.Status != storage.StatusInInventory {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, storage.StatusPendingRedemption)
		}
		if err := s.moveStatus(ctx, tx, o, storage.StatusPendingRedemption); err != nil {
			return err
		}
		outcome = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(userID, "redeem_requested", fmt.Sprintf("outcome_id=%s prize_id=%s", outcome.ID, outcome.PrizeID))
	s.notify(ctx, outcome)
	return outcome, nil
}

// AdvanceRedemption moves a redeemed prize along fulfilment. Only
// pending_redemption -> shipped and shipped -> delivered are accepted.
func (s *PackService) AdvanceRedemption(ctx context.Context, outcomeID string, to storage.RedemptionStatus) (*storage.Outcome, error) {
	if to != storage.StatusShipped && to != storage.StatusDelivered {
		return nil, invalid("status", fmt.Sprintf("cannot advance to %q", to))
	}

	o, err := storage.GetOutcome(ctx, storage.DB(), outcomeID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOutcomeNotFound
	}

	var outcome *storage.Outcome
	err = inUserTx(ctx, s.locker, s.retry, "redeem_advance", o.UserID, func(tx *sql.Tx) error {
		current, err := ownedOutcome(ctx, tx, o.UserID, outcomeID)
		if err != nil {
			return err
		}
		if err := s.moveStatus(ctx, tx, current, to); err != nil {
			return err
		}
		outcome = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("redemption_advanced", fmt.Sprintf("outcome_id=%s user_id=%s status=%s", outcome.ID, outcome.UserID, outcome.Status))
	s.notify(ctx, outcome)
	return outcome, nil
}

func (s *PackService) notify(ctx context.Context, o *storage.Outcome) {
	if s.notifier == nil {
		return
	}
	prize, err := storage.GetPrize(ctx, storage.DB(), o.PrizeID)
	if err != nil {
		logger.Warn("notify_redemption", fmt.Sprintf("outcome_id=%s error=%v", o.ID, err))
		return
	}
	s.notifier.NotifyRedemption(o, prize)
}

// ResellResult is returned by Resell.
type ResellResult struct {
	Outcome    *storage.Outcome     `json:"outcome"`
	Credit     *storage.Transaction `json:"credit,omitempty"`
	Amount     int64                `json:"amount"`
	NewBalance int64                `json:"new_balance"`
	Replayed   bool                 `json:"replayed"`
}

// ResellPercent returns the share of market value a pack's prizes resell for.
func (s *PackService) ResellPercent(p *storage.Pack) int64 {
	if p != nil && p.ResellPercent != nil {
		return *p.ResellPercent
	}
	return s.resellPercent
}

// Resell trades an in-inventory prize back for purchased gems. Reselling the
// same outcome again returns the original credit.
func (s *PackService) Resell(ctx context.Context, userID, outcomeID string) (*ResellResult, error) {
	if userID == "" || outcomeID == "" {
		return nil, invalid("outcome_id", "required")
	}
	key := "resell:" + outcomeID

	var result *ResellResult
	var prizeName string
	err := inUserTx(ctx, s.locker, s.retry, "resell", userID, func(tx *sql.Tx) error {
		o, err := ownedOutcome(ctx, tx, userID, outcomeID)
		if err != nil {
			return err
		}

		if o.Status == storage.StatusResold {
			var prior *storage.Transaction
			if o.ResellTxID != "" {
				prior, err = storage.GetTransactionByID(ctx, tx, o.ResellTxID)
				if err != nil {
					return err
				}
			}
			a, err := loadAccount(ctx, tx, userID)
			if err != nil {
				return err
			}
			result = &ResellResult{Outcome: o, Credit: prior, NewBalance: a.Spendable(), Replayed: true}
			if prior != nil {
				result.Amount = prior.Amount
			}
			return nil
		}
		if !canTransition(o.Status, storage.StatusResold) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, storage.StatusResold)
		}

		prize, err := storage.GetPrize(ctx, tx, o.PrizeID)
		if err != nil {
			return err
		}
		if prize == nil {
			return fmt.Errorf("prize %s of outcome %s missing", o.PrizeID, o.ID)
		}
		pack, err := storage.GetPack(ctx, tx, o.PackID)
		if err != nil {
			return err
		}
		prizeName = prize.Name
		amount := prize.MarketValue * s.ResellPercent(pack) / 100

		result = &ResellResult{Outcome: o, Amount: amount}
		if amount > 0 {
			credit, err := creditTx(ctx, tx, EntryRequest{
				UserID:         userID,
				Amount:         amount,
				Type:           storage.TxResellCredit,
				IdempotencyKey: key,
				ReferenceID:    o.ID,
				Bucket:         BucketPurchased,
				Metadata:       map[string]string{"prize_id": prize.ID, "pack_id": o.PackID},
			})
			if err != nil {
				return err
			}
			result.Credit = credit
			result.NewBalance = credit.BalanceAfter
			o.ResellTxID = credit.ID
		} else {
			a, err := loadAccount(ctx, tx, userID)
			if err != nil {
				return err
			}
			result.NewBalance = a.Spendable()
		}
		return s.moveStatus(ctx, tx, o, storage.StatusResold)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOutcomeNotFound
		}
		return nil, err
	}
	if !result.Replayed {
		logger.Debug(userID, "prize_resold", fmt.Sprintf("outcome_id=%s amount=%d balance=%d", outcomeID, result.Amount, result.NewBalance))
		if s.notifier != nil {
			s.notifier.NotifyResell(userID, prizeName, result.Amount, result.NewBalance)
		}
	}
	return result, nil
}
