package bot

import (
	"fmt"
	"strings"

	"mysterypack/internal/service"
	"mysterypack/internal/storage"
)

func formatGems(n int64) string {
	return fmt.Sprintf("%d 💎", n)
}

// escapeMarkdown escapes the characters legacy Telegram Markdown treats as
// markup
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`)
	return r.Replace(s)
}

func formatBalance(b service.Balance) string {
	text := fmt.Sprintf("💰 *Your Balance*\n\n"+
		"Spendable: %s\n"+
		"Purchased: %d\n"+
		"Promotional: %d",
		formatGems(b.Total), b.Purchased, b.Promotional)
	if b.Pending > 0 {
		text += fmt.Sprintf("\nPending: %d", b.Pending)
	}
	return text
}

func formatSeed(s service.SeedView) string {
	return fmt.Sprintf("🔐 Active seed\n\n"+
		"Commitment: %s\n"+
		"Client seed: %s\n"+
		"Draws so far: %d",
		s.Commitment, s.ClientSeed, s.Counter)
}

func formatRotation(r *service.RotateResult) string {
	return fmt.Sprintf("🔓 Seed revealed\n\n"+
		"Server seed: %s\n"+
		"Commitment: %s\n"+
		"Draws made: %d\n\n"+
		"New commitment: %s",
		r.Revealed.ServerSeed, r.Revealed.Commitment, r.Revealed.Counter, r.NewCommitment)
}

func formatPacks(packs []service.PackSummary) string {
	if len(packs) == 0 {
		return "🎁 *Packs*\n\nNothing on sale right now."
	}
	text := fmt.Sprintf("🎁 *Packs* (%d)\n\n", len(packs))
	for i, p := range packs {
		text += fmt.Sprintf("*%d.* %s\n"+
			"   🆔 %s | %s | %d prizes\n\n",
			i+1, escapeMarkdown(p.Name), escapeMarkdown(p.ID), formatGems(p.GemCost), p.EntryCount)
	}
	text += "Use /odds <pack> to see the chances and /open <pack> to open one."
	return text
}

func formatOdds(o *service.PackOdds) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎲 %s (catalog v%d, %s)\n\n", o.Name, o.CatalogVersion, formatGems(o.GemCost))
	for _, e := range o.Disclosure.Entries {
		fmt.Fprintf(&sb, "%s: %.2f%%\n", e.PrizeID, e.Percentage)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatOpenResult(r *service.OpenResult, prize *storage.Prize) string {
	name := r.SelectedPrizeID
	if prize != nil {
		name = fmt.Sprintf("%s (%s, worth %s)", prize.Name, prize.Rarity, formatGems(prize.MarketValue))
	}
	header := "🎉 You opened a pack!"
	if r.Replayed {
		header = "🔁 This pack was already opened."
	}
	return fmt.Sprintf("%s\n\n"+
		"Prize: %s\n"+
		"Cost: %s | Balance: %s\n\n"+
		"Outcome: %s\n"+
		"Commitment: %s\n"+
		"Client seed: %s\n"+
		"Counter: %d | Roll: %d",
		header, name,
		formatGems(r.CostCharged), formatGems(r.NewBalance),
		r.OutcomeID, r.SeedCommitmentUsed, r.ClientSeedUsed, r.CounterUsed, r.Roll)
}

var statusEmoji = map[storage.RedemptionStatus]string{
	storage.StatusInInventory:       "🗃",
	storage.StatusPendingRedemption: "⏳",
	storage.StatusShipped:           "🚚",
	storage.StatusDelivered:         "✅",
	storage.StatusResold:            "💱",
}

func formatInventory(outcomes []storage.Outcome) string {
	if len(outcomes) == 0 {
		return "🗃 Your inventory is empty. Use /packs to find a pack to open."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗃 Latest prizes (%d)\n", len(outcomes))
	for i, o := range outcomes {
		fmt.Fprintf(&sb, "\n%d. %s %s\n   %s | %s", i+1, statusEmoji[o.Status], o.PrizeID, o.ID, o.Status)
	}
	return sb.String()
}

func formatVerification(v *service.OutcomeVerification) string {
	verdict := "✅ Draw verified"
	if !v.Valid {
		verdict = "⚠️ Verification failed"
	}
	check := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "MISMATCH"
	}
	return fmt.Sprintf("%s\n\n"+
		"Commitment: %s\n"+
		"Draw value: %s\n"+
		"Prize: %s (%s)\n\n"+
		"Server seed: %s\n"+
		"Client seed: %s\n"+
		"Counter: %d",
		verdict,
		check(v.CommitmentValid), check(v.DrawValid),
		check(v.PrizeValid), v.RecomputedPrize,
		v.ServerSeed, v.ClientSeed, v.Counter)
}
