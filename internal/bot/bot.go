package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v3"

	"mysterypack/internal/logger"
	"mysterypack/internal/service"
	"mysterypack/internal/storage"
)

// commandTimeout bounds the service work behind one command.
const commandTimeout = 10 * time.Second

// inventoryLimit is how many prizes /inventory lists.
const inventoryLimit = 10

// Deps are the services the bot commands call.
type Deps struct {
	Ledger    *service.LedgerService
	Seeds     *service.SeedService
	Packs     *service.PackService
	Verify    *service.VerificationService
	WebAppURL string
}

// Bot is the Telegram front end of the pack store. Telegram user IDs are the
// ledger user IDs.
type Bot struct {
	tb *telebot.Bot
	Deps
}

// New creates the bot and registers its commands. It does not start polling.
func New(token string, d Deps) (*Bot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token not set")
	}
	tb, err := telebot.NewBot(telebot.Settings{
		Token: token,
		Poller: &telebot.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b := &Bot{tb: tb, Deps: d}
	b.register()
	return b, nil
}

// Telebot returns the underlying client, which doubles as the notification
// sender.
func (b *Bot) Telebot() *telebot.Bot {
	return b.tb
}

// Start polls for updates until Stop is called.
func (b *Bot) Start() {
	logger.Info("bot_started", fmt.Sprintf("username=%s", b.tb.Me.Username))
	b.tb.Start()
}

// Stop ends polling.
func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) register() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/help", b.handleHelp)
	b.tb.Handle("/balance", b.handleBalance)
	b.tb.Handle("/seed", b.handleSeed)
	b.tb.Handle("/clientseed", b.handleClientSeed)
	b.tb.Handle("/rotate", b.handleRotate)
	b.tb.Handle("/packs", b.handlePacks)
	b.tb.Handle("/odds", b.handleOdds)
	b.tb.Handle("/open", b.handleOpen)
	b.tb.Handle("/inventory", b.handleInventory)
	b.tb.Handle("/redeem", b.handleRedeem)
	b.tb.Handle("/resell", b.handleResell)
	b.tb.Handle("/verify", b.handleVerify)
}

func userKey(c telebot.Context) string {
	return strconv.FormatInt(c.Sender().ID, 10)
}

func markdown() *telebot.SendOptions {
	return &telebot.SendOptions{ParseMode: telebot.ModeMarkdown}
}

func (b *Bot) fail(c telebot.Context, action string, err error) error {
	logger.Debug(userKey(c), action+"_failed", fmt.Sprintf("error=%v", err))
	return c.Send(userMessage(err))
}

func (b *Bot) handleStart(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_start", fmt.Sprintf("username=%s first_name=%s", c.Sender().Username, c.Sender().FirstName))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	seed, err := b.Seeds.GetOrCreateActive(ctx, uid)
	if err != nil {
		return b.fail(c, "start", err)
	}
	bal, err := b.Ledger.GetBalance(ctx, uid)
	if err != nil {
		return b.fail(c, "start", err)
	}

	text := fmt.Sprintf("Welcome to the Mystery Pack store! 🎁\n\nHi, %s! You have %s.\n\n"+
		"Every draw is provably fair. Your current server seed commitment is:\n%s\n\n"+
		"Open the store below or use /help to see the commands.",
		c.Sender().FirstName, formatGems(bal.Total), seed.Commitment)

	if b.WebAppURL == "" {
		return c.Send(text)
	}
	btn := telebot.InlineButton{
		Text:   "🎁 Open the Store",
		WebApp: &telebot.WebApp{URL: b.WebAppURL},
	}
	return c.Send(text, &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{{btn}},
	})
}

const helpText = "📚 *Available Commands*\n\n" +
	"/balance - Check your gems\n" +
	"/packs - List the packs for sale\n" +
	"/odds <pack> - Show the odds of a pack\n" +
	"/open <pack> [client seed] - Open a pack\n" +
	"/inventory - Show your latest prizes\n" +
	"/redeem <outcome> - Ship a prize to you\n" +
	"/resell <outcome> - Sell a prize back for gems\n" +
	"/seed - Show your seed commitment\n" +
	"/clientseed <seed> - Set your client seed\n" +
	"/rotate [client seed] - Reveal your server seed and start a new one\n" +
	"/verify <outcome> - Recompute a draw after rotating\n" +
	"/help - Show this help message"

func (b *Bot) handleHelp(c telebot.Context) error {
	logger.Debug(userKey(c), "command_help", "")
	return c.Send(helpText, markdown())
}

func (b *Bot) handleBalance(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_balance", "")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	bal, err := b.Ledger.GetBalance(ctx, uid)
	if err != nil {
		return b.fail(c, "balance", err)
	}
	return c.Send(formatBalance(bal), markdown())
}

func (b *Bot) handleSeed(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_seed", "")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	seed, err := b.Seeds.GetOrCreateActive(ctx, uid)
	if err != nil {
		return b.fail(c, "seed", err)
	}
	return c.Send(formatSeed(seed))
}

func (b *Bot) handleClientSeed(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_clientseed", "")

	seed := strings.TrimSpace(c.Message().Payload)
	if seed == "" {
		return c.Send("Usage: /clientseed <seed>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	view, err := b.Seeds.SetClientSeed(ctx, uid, seed)
	if err != nil {
		return b.fail(c, "clientseed", err)
	}
	return c.Send("✅ Client seed updated.\n\n" + formatSeed(view))
}

func (b *Bot) handleRotate(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_rotate", "")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := b.Seeds.Rotate(ctx, uid, strings.TrimSpace(c.Message().Payload))
	if err != nil {
		return b.fail(c, "rotate", err)
	}
	return c.Send(formatRotation(res))
}

func (b *Bot) handlePacks(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_packs", "")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	packs, err := b.Packs.ListPacks(ctx)
	if err != nil {
		return b.fail(c, "packs", err)
	}
	return c.Send(formatPacks(packs), markdown())
}

func (b *Bot) handleOdds(c telebot.Context) error {
	uid := userKey(c)
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /odds <pack>")
	}
	logger.Debug(uid, "command_odds", fmt.Sprintf("pack_id=%s", args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	odds, err := b.Packs.Odds(ctx, args[0])
	if err != nil {
		return b.fail(c, "odds", err)
	}
	return c.Send(formatOdds(odds))
}

// openKey makes a pack-open idempotent per Telegram message, so a redelivered
// update replays the first draw.
func openKey(c telebot.Context) string {
	return fmt.Sprintf("tg:%d:%d", c.Chat().ID, c.Message().ID)
}

func (b *Bot) handleOpen(c telebot.Context) error {
	uid := userKey(c)
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /open <pack> [client seed]")
	}
	req := service.OpenRequest{
		UserID:         uid,
		PackID:         args[0],
		IdempotencyKey: openKey(c),
	}
	if len(args) > 1 {
		req.ClientSeed = strings.Join(args[1:], " ")
	}
	logger.Debug(uid, "command_open", fmt.Sprintf("pack_id=%s key=%s", req.PackID, req.IdempotencyKey))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := b.Packs.Open(ctx, req)
	if err != nil {
		return b.fail(c, "open", err)
	}
	prize, err := storage.GetPrize(ctx, storage.DB(), res.SelectedPrizeID)
	if err != nil {
		logger.Warn("bot_prize_lookup", fmt.Sprintf("prize_id=%s error=%v", res.SelectedPrizeID, err))
	}
	return c.Send(formatOpenResult(res, prize))
}

func (b *Bot) handleInventory(c telebot.Context) error {
	uid := userKey(c)
	logger.Debug(uid, "command_inventory", "")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	outcomes, err := b.Packs.ListOutcomes(ctx, uid, "", inventoryLimit, 0)
	if err != nil {
		return b.fail(c, "inventory", err)
	}
	return c.Send(formatInventory(outcomes))
}

func (b *Bot) handleRedeem(c telebot.Context) error {
	uid := userKey(c)
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /redeem <outcome>")
	}
	logger.Debug(uid, "command_redeem", fmt.Sprintf("outcome_id=%s", args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	o, err := b.Packs.Redeem(ctx, uid, args[0])
	if err != nil {
		return b.fail(c, "redeem", err)
	}
	return c.Send(fmt.Sprintf("📦 Redemption requested for %s. We will message you when it ships.", o.ID))
}

func (b *Bot) handleResell(c telebot.Context) error {
	uid := userKey(c)
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /resell <outcome>")
	}
	logger.Debug(uid, "command_resell", fmt.Sprintf("outcome_id=%s", args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := b.Packs.Resell(ctx, uid, args[0])
	if err != nil {
		return b.fail(c, "resell", err)
	}
	if res.Replayed {
		return c.Send(fmt.Sprintf("This prize was already sold for %s. Balance: %s.", formatGems(res.Amount), formatGems(res.NewBalance)))
	}
	// The notification service confirms fresh sales.
	return nil
}

func (b *Bot) handleVerify(c telebot.Context) error {
	uid := userKey(c)
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /verify <outcome>")
	}
	logger.Debug(uid, "command_verify", fmt.Sprintf("outcome_id=%s", args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	v, err := b.Verify.VerifyOutcome(ctx, uid, args[0])
	if err != nil {
		return b.fail(c, "verify", err)
	}
	return c.Send(formatVerification(v))
}

// userMessage turns a service error into something a player can act on.
func userMessage(err error) string {
	var funds *service.InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		return fmt.Sprintf("❌ Not enough gems: this costs %s and you have %s.", formatGems(funds.Required), formatGems(funds.Available))
	case errors.Is(err, service.ErrPackNotFound):
		return "❌ No such pack. Use /packs to see what is on sale."
	case errors.Is(err, service.ErrEmptyCatalog):
		return "❌ This pack is not on sale yet."
	case errors.Is(err, service.ErrOutcomeNotFound), errors.Is(err, service.ErrForbidden):
		return "❌ No such prize in your inventory."
	case errors.Is(err, service.ErrInvalidTransition):
		return "❌ That prize can no longer be changed."
	case errors.Is(err, service.ErrSeedNotRevealed):
		return "🔒 That draw's server seed is still secret. Use /rotate to reveal it first."
	case errors.Is(err, service.ErrInvalidClientSeed):
		return "❌ " + err.Error()
	case errors.Is(err, service.ErrValidation):
		return "❌ " + err.Error()
	case errors.Is(err, service.ErrTransient):
		return "⏳ The store is busy. Please try again in a moment."
	}
	return "Something went wrong. Please try again."
}
