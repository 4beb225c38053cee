package storage

import (
	"time"
)

// Account is the materialized balance of a user's ledger
type Account struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Purchased   int64     `json:"purchased" db:"purchased"`     // gems bought with real money
	Promotional int64     `json:"promotional" db:"promotional"` // gems granted for free
	Pending     int64     `json:"pending" db:"pending"`         // not yet spendable
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Spendable returns purchased + promotional
func (a *Account) Spendable() int64 {
	return a.Purchased + a.Promotional
}

// TxType is the kind of a ledger transaction
type TxType string

const (
	TxPurchase         TxType = "purchase"
	TxBonus            TxType = "bonus"
	TxPromotionalGrant TxType = "promotional_grant"
	TxPackOpenDebit    TxType = "pack_open_debit"
	TxRefund           TxType = "refund"
	TxAdminAdjustment  TxType = "admin_adjustment"
	TxResellCredit     TxType = "resell_credit"
)

// Valid reports whether t is a known transaction type
func (t TxType) Valid() bool {
	switch t {
	case TxPurchase, TxBonus, TxPromotionalGrant, TxPackOpenDebit, TxRefund, TxAdminAdjustment, TxResellCredit:
		return true
	}
	return false
}

// Transaction is one immutable ledger entry. Amount is the sum of the bucket
// deltas; BalanceBefore and BalanceAfter are spendable totals.
type Transaction struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Type             TxType    `json:"type" db:"type"`
	Amount           int64     `json:"amount" db:"amount"` // can be negative
	PurchasedDelta   int64     `json:"purchased_delta" db:"purchased_delta"`
	PromotionalDelta int64     `json:"promotional_delta" db:"promotional_delta"`
	PendingDelta     int64     `json:"pending_delta" db:"pending_delta"`
	BalanceBefore    int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter     int64     `json:"balance_after" db:"balance_after"`
	IdempotencyKey   string    `json:"idempotency_key" db:"idempotency_key"`
	ReferenceID      string    `json:"reference_id,omitempty" db:"reference_id"`
	Metadata         string    `json:"metadata,omitempty" db:"metadata"` // JSON object
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// SeedPair is the committed server seed a user's draws are derived from
type SeedPair struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	ServerSeed string     `json:"-" db:"server_seed"` // never serialized while active
	Commitment string     `json:"commitment" db:"commitment"`
	ClientSeed string     `json:"client_seed" db:"client_seed"`
	Counter    uint64     `json:"counter" db:"counter"`
	Active     bool       `json:"active" db:"active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty" db:"revealed_at"`
}

// Revealed reports whether the server seed may be published
func (s *SeedPair) Revealed() bool {
	return !s.Active && s.RevealedAt != nil
}

// Prize is a card that can be won from a pack
type Prize struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	SetName     string `json:"set_name" db:"set_name"`
	Rarity      string `json:"rarity" db:"rarity"`
	ImageURL    string `json:"image_url,omitempty" db:"image_url"`
	MarketValue int64  `json:"market_value" db:"market_value"` // in gems
}

// Pack is a purchasable prize pool. Its weighted entries are versioned.
type Pack struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Tier          string    `json:"tier" db:"tier"`
	GemCost       int64     `json:"gem_cost" db:"gem_cost"`
	ResellPercent *int64    `json:"resell_percent,omitempty" db:"resell_percent"`
	ActiveVersion int64     `json:"active_version" db:"active_version"`
	CatalogSource string    `json:"catalog_source" db:"catalog_source"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Who published a pack's active catalog version
const (
	CatalogSourceFile  = "file"
	CatalogSourceAdmin = "admin"
)

// GemPackage is a gem bundle sold through the payment processor
type GemPackage struct {
	ID              string `json:"id" db:"id"`
	Name            string `json:"name" db:"name"`
	PriceMinorUnits int64  `json:"price_minor_units" db:"price_minor_units"`
	BaseGems        int64  `json:"base_gems" db:"base_gems"`
	BonusGems       int64  `json:"bonus_gems" db:"bonus_gems"`
	DisplayOrder    int    `json:"display_order" db:"display_order"`
}

// RedemptionStatus is the lifecycle stage of a won prize
type RedemptionStatus string

const (
	StatusInInventory       RedemptionStatus = "in_inventory"
	StatusPendingRedemption RedemptionStatus = "pending_redemption"
	StatusShipped           RedemptionStatus = "shipped"
	StatusDelivered         RedemptionStatus = "delivered"
	StatusResold            RedemptionStatus = "resold"
)

// Outcome is the persisted result of one pack opening
type Outcome struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	PackID         string           `json:"pack_id" db:"pack_id"`
	PrizeID        string           `json:"prize_id" db:"prize_id"`
	CatalogVersion int64            `json:"catalog_version" db:"catalog_version"`
	SeedPairID     string           `json:"seed_pair_id" db:"seed_pair_id"`
	Commitment     string           `json:"commitment" db:"commitment"`
	ClientSeed     string           `json:"client_seed" db:"client_seed"`
	Counter        uint64           `json:"counter" db:"counter"`
	DrawValue      uint32           `json:"draw_value" db:"draw_value"`
	Roll           uint32           `json:"roll" db:"roll"`
	Cost           int64            `json:"cost" db:"cost"`
	NewBalance     int64            `json:"new_balance" db:"new_balance"`
	IdempotencyKey string           `json:"idempotency_key" db:"idempotency_key"`
	DebitTxID      string           `json:"debit_tx_id" db:"debit_tx_id"`
	Status         RedemptionStatus `json:"status" db:"status"`
	ResellTxID     string           `json:"resell_tx_id,omitempty" db:"resell_tx_id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Stats is the platform-wide aggregate shown on the transparency page
type Stats struct {
	TotalPacksOpened     int64      `json:"total_packs_opened"`
	TotalGemsSpent       int64      `json:"total_gems_spent"`
	TotalPrizeValue      int64      `json:"total_prize_value"`
	TotalGemsDistributed int64      `json:"total_gems_distributed"` // resell credits
	TotalCardsShipped    int64      `json:"total_cards_shipped"`
	ActiveUsers24h       int64      `json:"active_users_24h"`
	RevealedSeeds        int64      `json:"revealed_seeds"`
	BiggestWinToday      *BigWin    `json:"biggest_win_today"`
	Packs                []PackStat `json:"packs"`
}

// BigWin is the most valuable prize drawn in a time window
type BigWin struct {
	PrizeID  string    `json:"prize_id"`
	Name     string    `json:"card_name"`
	Rarity   string    `json:"rarity"`
	Value    int64     `json:"value"`
	PackID   string    `json:"pack_id"`
	OpenedAt time.Time `json:"opened_at"`
}

// PackStat is the observed prize distribution of one pack
type PackStat struct {
	PackID string       `json:"pack_id"`
	Opens  int64        `json:"opens"`
	Prizes []PrizeCount `json:"prizes"`
}

// PrizeCount is how many times a prize was drawn
type PrizeCount struct {
	PrizeID string `json:"prize_id"`
	Count   int64  `json:"count"`
}
