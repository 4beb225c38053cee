package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"mysterypack/internal/catalog"
)

func setupTestDB(t *testing.T) {
	// Use in-memory database for tests
	if err := InitDB(":memory:"); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
}

func cleanupTestDB(t *testing.T) {
	CloseDB()
}

func seedTestCatalog(t *testing.T) {
	f := &catalog.File{
		Prizes: []catalog.PrizeDef{
			{ID: "common", Name: "Common Card", Rarity: "common", MarketValue: 10},
			{ID: "rare", Name: "Rare Card", Rarity: "rare", MarketValue: 500},
		},
		Packs: []catalog.PackDef{
			{ID: "bronze", Name: "Bronze", GemCost: 100, Entries: []catalog.Entry{
				{PrizeID: "common", Weight: 60},
				{PrizeID: "rare", Weight: 5},
			}},
		},
		GemPackages: []catalog.GemPackageDef{
			{ID: "starter", Name: "Starter", PriceMinorUnits: 499, BaseGems: 500, BonusGems: 50},
		},
	}
	if err := LoadCatalog(context.Background(), f); err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
}

func TestApplyTransaction(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()

	if err := EnsureAccount(ctx, DB(), "u1"); err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}

	credit := &Transaction{
		ID:               "tx-1",
		UserID:           "u1",
		Type:             TxPromotionalGrant,
		PromotionalDelta: 100,
		BalanceBefore:    0,
		BalanceAfter:     100,
		IdempotencyKey:   "grant:1",
	}
	if err := ApplyTransaction(ctx, DB(), credit); err != nil {
		t.Fatalf("ApplyTransaction failed: %v", err)
	}
	if credit.Amount != 100 {
		t.Errorf("Expected amount 100, got %d", credit.Amount)
	}

	account, err := GetAccount(ctx, DB(), "u1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Promotional != 100 || account.Purchased != 0 {
		t.Errorf("Expected promotional=100 purchased=0, got %+v", account)
	}

	dup := *credit
	dup.ID = "tx-2"
	err = ApplyTransaction(ctx, DB(), &dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	got, err := GetTransactionByKey(ctx, DB(), "grant:1")
	if err != nil || got == nil {
		t.Fatalf("GetTransactionByKey failed: %v", err)
	}
	if got.ID != "tx-1" || got.Type != TxPromotionalGrant {
		t.Errorf("Unexpected transaction: %+v", got)
	}
}

func TestApplyTransactionRejectsNegativeBucket(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()

	EnsureAccount(ctx, DB(), "u1")
	err := WithTx(ctx, func(tx *sql.Tx) error {
		return ApplyTransaction(ctx, tx, &Transaction{
			ID:             "tx-neg",
			UserID:         "u1",
			Type:           TxAdminAdjustment,
			PurchasedDelta: -1,
			BalanceAfter:   -1,
			IdempotencyKey: "neg",
		})
	})
	if err == nil {
		t.Fatal("Expected CHECK constraint failure")
	}

	// The failed transaction must leave nothing behind
	if got, _ := GetTransactionByKey(ctx, DB(), "neg"); got != nil {
		t.Error("Expected no transaction row after rollback")
	}
}

func TestFoldTransactions(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()

	EnsureAccount(ctx, DB(), "u1")
	txs := []Transaction{
		{ID: "a", UserID: "u1", Type: TxPurchase, PurchasedDelta: 500, BalanceAfter: 500, IdempotencyKey: "a"},
		{ID: "b", UserID: "u1", Type: TxBonus, PromotionalDelta: 50, BalanceBefore: 500, BalanceAfter: 550, IdempotencyKey: "b"},
		{ID: "c", UserID: "u1", Type: TxPackOpenDebit, PromotionalDelta: -50, PurchasedDelta: -50, BalanceBefore: 550, BalanceAfter: 450, IdempotencyKey: "c"},
	}
	for i := range txs {
		if err := ApplyTransaction(ctx, DB(), &txs[i]); err != nil {
			t.Fatalf("ApplyTransaction %s failed: %v", txs[i].ID, err)
		}
	}

	fold, err := FoldTransactions(ctx, DB(), "u1")
	if err != nil {
		t.Fatalf("FoldTransactions failed: %v", err)
	}
	if fold.Purchased != 450 || fold.Promotional != 0 || fold.Count != 3 {
		t.Errorf("Unexpected fold: %+v", fold)
	}

	list, err := ListTransactions(ctx, DB(), "u1", "", 2, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("Expected newest first [c b], got %+v", list)
	}

	bonuses, _ := ListTransactions(ctx, DB(), "u1", TxBonus, 10, 0)
	if len(bonuses) != 1 || bonuses[0].ID != "b" {
		t.Errorf("Expected only the bonus transaction, got %+v", bonuses)
	}

	count, err := CountTransactions(ctx, DB(), "u1", "")
	if err != nil || count != 3 {
		t.Errorf("Expected 3 transactions, got %d (%v)", count, err)
	}
}

func TestSeedLifecycle(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()

	seed := &SeedPair{ID: "s1", UserID: "u1", ServerSeed: "secret", Commitment: "c1", ClientSeed: "default"}
	if err := CreateSeed(ctx, DB(), seed); err != nil {
		t.Fatalf("CreateSeed failed: %v", err)
	}

	// Only one active pair per user
	err := CreateSeed(ctx, DB(), &SeedPair{ID: "s2", UserID: "u1", ServerSeed: "other", Commitment: "c2", ClientSeed: "default"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for second active seed, got %v", err)
	}

	if err := AdvanceCounter(ctx, DB(), "s1", 0); err != nil {
		t.Fatalf("AdvanceCounter failed: %v", err)
	}
	if err := AdvanceCounter(ctx, DB(), "s1", 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict for stale counter, got %v", err)
	}

	if err := UpdateClientSeed(ctx, DB(), "s1", "lucky"); err != nil {
		t.Fatalf("UpdateClientSeed failed: %v", err)
	}

	active, err := GetActiveSeed(ctx, DB(), "u1")
	if err != nil || active == nil {
		t.Fatalf("GetActiveSeed failed: %v", err)
	}
	if active.Counter != 1 || active.ClientSeed != "lucky" || active.Revealed() {
		t.Errorf("Unexpected active seed: %+v", active)
	}

	if err := RevealSeed(ctx, DB(), "s1", time.Now().UTC()); err != nil {
		t.Fatalf("RevealSeed failed: %v", err)
	}
	if err := RevealSeed(ctx, DB(), "s1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound revealing twice, got %v", err)
	}

	active, _ = GetActiveSeed(ctx, DB(), "u1")
	if active != nil {
		t.Error("Expected no active seed after reveal")
	}

	revealed, err := GetSeedByCommitment(ctx, DB(), "c1")
	if err != nil || revealed == nil {
		t.Fatalf("GetSeedByCommitment failed: %v", err)
	}
	if !revealed.Revealed() {
		t.Error("Expected seed to be revealed")
	}

	// A new active pair is allowed once the old one is revealed
	if err := CreateSeed(ctx, DB(), &SeedPair{ID: "s2", UserID: "u1", ServerSeed: "other", Commitment: "c2", ClientSeed: "default"}); err != nil {
		t.Fatalf("CreateSeed after reveal failed: %v", err)
	}

	list, err := ListRevealedSeeds(ctx, DB(), "u1", 10)
	if err != nil {
		t.Fatalf("ListRevealedSeeds failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Errorf("Expected only s1 revealed, got %+v", list)
	}
}

func TestPublishPackVersions(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()
	seedTestCatalog(t)

	pack, err := GetPack(ctx, DB(), "bronze")
	if err != nil || pack == nil {
		t.Fatalf("GetPack failed: %v", err)
	}
	if pack.ActiveVersion != 1 {
		t.Errorf("Expected version 1, got %d", pack.ActiveVersion)
	}

	// Same entries keep the version
	seedTestCatalog(t)
	pack, _ = GetPack(ctx, DB(), "bronze")
	if pack.ActiveVersion != 1 {
		t.Errorf("Expected version to stay 1, got %d", pack.ActiveVersion)
	}

	newEntries := []catalog.Entry{{PrizeID: "common", Weight: 50}, {PrizeID: "rare", Weight: 10}}
	version, err := PublishPack(ctx, DB(), &Pack{ID: "bronze", Name: "Bronze", GemCost: 120}, newEntries, CatalogSourceFile)
	if err != nil {
		t.Fatalf("PublishPack failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}

	old, err := GetPackEntries(ctx, DB(), "bronze", 1)
	if err != nil {
		t.Fatalf("GetPackEntries failed: %v", err)
	}
	if len(old) != 2 || old[0].Weight != 60 {
		t.Errorf("Expected version 1 entries to be preserved, got %+v", old)
	}

	current, _ := GetPackEntries(ctx, DB(), "bronze", 2)
	if len(current) != 2 || current[0].Weight != 50 {
		t.Errorf("Unexpected version 2 entries: %+v", current)
	}

	g, err := GetGemPackage(ctx, DB(), "starter")
	if err != nil || g == nil {
		t.Fatalf("GetGemPackage failed: %v", err)
	}
	if g.BonusGems != 50 {
		t.Errorf("Expected 50 bonus gems, got %d", g.BonusGems)
	}
}

func TestPublishPackFileDoesNotOverrideAdmin(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()
	seedTestCatalog(t)

	admin := []catalog.Entry{{PrizeID: "rare", Weight: 1}}
	version, err := PublishPack(ctx, DB(), &Pack{ID: "bronze", Name: "Bronze", GemCost: 100}, admin, CatalogSourceAdmin)
	if err != nil || version != 2 {
		t.Fatalf("admin PublishPack: version=%d err=%v", version, err)
	}

	seedTestCatalog(t)
	pack, _ := GetPack(ctx, DB(), "bronze")
	if pack.ActiveVersion != 2 || pack.CatalogSource != CatalogSourceAdmin {
		t.Errorf("Expected admin version 2 to stay active, got version=%d source=%s", pack.ActiveVersion, pack.CatalogSource)
	}
	if _, err := GetPackEntries(ctx, DB(), "bronze", 3); err != nil {
		t.Fatalf("GetPackEntries failed: %v", err)
	}
	if entries, _ := GetPackEntries(ctx, DB(), "bronze", 3); len(entries) != 0 {
		t.Errorf("File reload must not write a new version, got %+v", entries)
	}
}

func TestOutcomes(t *testing.T) {
	setupTestDB(t)
	defer cleanupTestDB(t)
	ctx := context.Background()
	seedTestCatalog(t)

	CreateSeed(ctx, DB(), &SeedPair{ID: "s1", UserID: "u1", ServerSeed: "secret", Commitment: "c1", ClientSeed: "default"})

	o := &Outcome{
		ID:             "o1",
		UserID:         "u1",
		PackID:         "bronze",
		PrizeID:        "rare",
		CatalogVersion: 1,
		SeedPairID:     "s1",
		Commitment:     "c1",
		ClientSeed:     "default",
		Counter:        0,
		DrawValue:      4063699826,
		Roll:           99826,
		Cost:           100,
		NewBalance:     0,
		IdempotencyKey: "open-1",
		DebitTxID:      "tx-1",
	}
	if err := CreateOutcome(ctx, DB(), o); err != nil {
		t.Fatalf("CreateOutcome failed: %v", err)
	}

	// Same (seed, counter) may not be reused
	reuse := *o
	reuse.ID = "o2"
	reuse.IdempotencyKey = "open-2"
	if err := CreateOutcome(ctx, DB(), &reuse); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for reused counter, got %v", err)
	}

	got, err := GetOutcomeByKey(ctx, DB(), "u1", "open-1")
	if err != nil || got == nil {
		t.Fatalf("GetOutcomeByKey failed: %v", err)
	}
	if got.DrawValue != 4063699826 || got.Status != StatusInInventory {
		t.Errorf("Unexpected outcome: %+v", got)
	}

	if err := UpdateOutcomeStatus(ctx, DB(), "o1", StatusInInventory, StatusResold, "tx-resell"); err != nil {
		t.Fatalf("UpdateOutcomeStatus failed: %v", err)
	}
	if err := UpdateOutcomeStatus(ctx, DB(), "o1", StatusInInventory, StatusPendingRedemption, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	got, _ = GetOutcome(ctx, DB(), "o1")
	if got.Status != StatusResold || got.ResellTxID != "tx-resell" {
		t.Errorf("Unexpected outcome after resell: %+v", got)
	}

	resold, err := ListOutcomes(ctx, DB(), "u1", StatusResold, 10, 0)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(resold) != 1 {
		t.Errorf("Expected 1 resold outcome, got %d", len(resold))
	}

	stats, err := GetStats(ctx, DB(), time.Now())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalPacksOpened != 1 || stats.TotalGemsSpent != 100 || stats.TotalPrizeValue != 500 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.BiggestWinToday == nil || stats.BiggestWinToday.PrizeID != "rare" {
		t.Errorf("Expected rare as biggest win, got %+v", stats.BiggestWinToday)
	}
	if len(stats.Packs) != 1 || stats.Packs[0].Opens != 1 {
		t.Errorf("Unexpected pack stats: %+v", stats.Packs)
	}
}
