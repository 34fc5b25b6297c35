// Package telegram is the chat front end. It serves only the owner's chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/project"
	"github.com/digkill/mangaforge/internal/service"
)

const paidCallbackPrefix = "paid:"

// Sender is the part of the Bot API the handlers talk to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api         Sender
	ownerID     int64
	log         *slog.Logger
	accounts    *service.AccountService
	plans       *service.PlanService
	payments    *service.PaymentService
	generations *service.GenerationService
	batch       *service.BatchService
	state       *StateManager
	language    genai.Language
}

func NewBot(api Sender, ownerID int64, log *slog.Logger, accounts *service.AccountService, plans *service.PlanService, payments *service.PaymentService, generations *service.GenerationService, batch *service.BatchService) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:         api,
		ownerID:     ownerID,
		log:         log,
		accounts:    accounts,
		plans:       plans,
		payments:    payments,
		generations: generations,
		batch:       batch,
		state:       NewStateManager(),
		language:    genai.LanguageEnglish,
	}
}

// Run polls updates from api until ctx is done.
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "bot", api.Self.UserName)

	for {
		select {
		case update := <-updates:
			b.handleUpdate(ctx, update)
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if !b.isOwner(update.Message.From) {
			b.sendText(update.Message.Chat.ID, "This studio is private.")
			return
		}
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		if !b.isOwner(update.CallbackQuery.From) {
			b.ack(update.CallbackQuery.ID, "Not allowed")
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) isOwner(from *tgbotapi.User) bool {
	return from != nil && from.ID == b.ownerID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.state.Reset(msg.Chat.ID)
		b.handleCommand(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch b.state.Get(msg.Chat.ID) {
	case StateAwaitingTopic:
		b.state.Reset(msg.Chat.ID)
		b.generateStory(ctx, msg.Chat.ID, text)
	case StateAwaitingPremise:
		b.state.Reset(msg.Chat.ID)
		b.setPremise(msg.Chat.ID, text)
	case StateAwaitingCharacter:
		b.state.Reset(msg.Chat.ID)
		b.createCharacter(ctx, msg.Chat.ID, text)
	default:
		b.sendText(msg.Chat.ID, "Send /start to see what I can do.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.sendText(chatID, helpText())
	case "balance":
		b.handleBalance(chatID)
	case "plans":
		b.handlePlans(chatID)
	case "buy":
		b.handleBuy(chatID, args)
	case "admin":
		b.handleAdmin(chatID, args)
	case "lang":
		b.language = genai.ParseLanguage(args)
		b.sendText(chatID, fmt.Sprintf("Language set to %s.", b.language))
	case "story":
		if args == "" {
			b.state.Set(chatID, StateAwaitingTopic)
			b.sendText(chatID, "What should the story be about?")
			return
		}
		b.generateStory(ctx, chatID, args)
	case "premise":
		if args == "" {
			b.state.Set(chatID, StateAwaitingPremise)
			b.sendText(chatID, "Send the premise for your comic.")
			return
		}
		b.setPremise(chatID, args)
	case "script":
		b.generateScript(ctx, chatID)
	case "character":
		if args == "" {
			b.state.Set(chatID, StateAwaitingCharacter)
			b.sendText(chatID, "Send the character as: Name | traits")
			return
		}
		b.createCharacter(ctx, chatID, args)
	case "panels":
		b.handlePanels(chatID)
	case "render":
		b.handleRender(ctx, chatID, args)
	case "renderall":
		b.handleRenderAll(ctx, chatID)
	default:
		b.sendText(chatID, "Unknown command. Send /start for help.")
	}
}

func (b *Bot) handleBalance(chatID int64) {
	l, err := b.accounts.Snapshot()
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("Plan: %s (%s)\nDiamonds: %s\nRubies: %s", l.Plan.Name, l.Plan.Code, l.Diamonds, l.Rubies))
}

func (b *Bot) handlePlans(chatID int64) {
	var sb strings.Builder
	sb.WriteString("Plans (use /buy CODE):\n")
	for _, p := range b.plans.Purchasable() {
		fmt.Fprintf(&sb, "\n%s %s: %s VND / %s, +%s diamonds, +%s rubies", p.Code, p.Name, formatVND(p.PriceMinorUnits), p.Period, p.GrantDiamonds, p.GrantRubies)
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) handleBuy(chatID int64, code string) {
	if code == "" {
		b.sendText(chatID, "Usage: /buy CODE. See /plans.")
		return
	}
	c, err := b.payments.StartCheckout(code)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if c.Status == service.CheckoutConfirmed {
		b.sendText(chatID, fmt.Sprintf("%s activated.", c.Plan.Name))
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(c.QRURL))
	photo.Caption = fmt.Sprintf("%s: transfer %s VND with note %q, then press the button.", c.Plan.Name, formatVND(c.Amount), "MF PAY "+c.Plan.Code+" "+c.TxCode)
	photo.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("I have paid", paidCallbackPrefix+c.ID)),
	)
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send checkout", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	id, ok := strings.CutPrefix(cb.Data, paidCallbackPrefix)
	if !ok || cb.Message == nil {
		b.ack(cb.ID, "Unknown action")
		return
	}
	b.ack(cb.ID, "Verifying payment...")

	c, err := b.payments.ConfirmPaid(ctx, id)
	if err != nil {
		b.replyError(cb.Message.Chat.ID, err)
		return
	}
	l, err := b.accounts.Snapshot()
	if err != nil {
		b.replyError(cb.Message.Chat.ID, err)
		return
	}
	b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Payment confirmed. You are now on %s with %s diamonds.", c.Plan.Name, l.Diamonds))
}

func (b *Bot) handleAdmin(chatID int64, secret string) {
	l, err := b.payments.AdminGrant(secret)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("Admin access granted. Diamonds: %s", l.Diamonds))
}

func (b *Bot) generateStory(ctx context.Context, chatID int64, topic string) {
	b.sendText(chatID, fmt.Sprintf("Writing a story (%d diamonds)...", ledger.ActionStory.Cost()))
	p, err := b.generations.GenerateStory(ctx, topic, b.language)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s, %s\n\n%s\n", p.Title, p.Genre, p.Style, p.Premise)
	if len(p.Characters) > 0 {
		sb.WriteString("\nCast:")
		for _, ch := range p.Characters {
			fmt.Fprintf(&sb, "\n- %s: %s", ch.Name, ch.Traits)
		}
	}
	fmt.Fprintf(&sb, "\n\n%d panels. Use /panels to review and /renderall to draw them.", len(p.Panels))
	b.sendText(chatID, sb.String())
}

func (b *Bot) setPremise(chatID int64, premise string) {
	if premise == "" {
		b.sendText(chatID, "The premise cannot be empty.")
		return
	}
	session := b.generations.Session()
	meta := session.Meta()
	meta.Premise = premise
	session.UpdateMeta(meta)
	b.sendText(chatID, "Premise saved. Send /script to break it into panels.")
}

func (b *Bot) generateScript(ctx context.Context, chatID int64) {
	panels, err := b.generations.GenerateScript(ctx, b.language)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, formatPanels(panels))
}

func (b *Bot) createCharacter(ctx context.Context, chatID int64, input string) {
	name, traits, _ := strings.Cut(input, "|")
	b.sendText(chatID, fmt.Sprintf("Drawing %s (%d diamonds)...", strings.TrimSpace(name), ledger.ActionCharacter.Cost()))
	ch, err := b.generations.CreateCharacter(ctx, name, traits)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendAsset(chatID, ch.Asset, ch.Name)
}

func (b *Bot) handlePanels(chatID int64) {
	b.sendText(chatID, formatPanels(b.generations.Session().Snapshot().Panels))
}

func (b *Bot) handleRender(ctx context.Context, chatID int64, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		b.sendText(chatID, "Usage: /render N, where N is the panel number from /panels.")
		return
	}
	panels := b.generations.Session().Snapshot().Panels
	if n > len(panels) {
		b.sendText(chatID, fmt.Sprintf("There are only %d panels.", len(panels)))
		return
	}
	b.sendText(chatID, fmt.Sprintf("Drawing panel %d (%d diamonds)...", n, ledger.ActionPanel.Cost()))
	p, err := b.generations.GeneratePanel(ctx, panels[n-1].ID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendAsset(chatID, p.Asset, fmt.Sprintf("Panel %d", p.Number))
}

func (b *Bot) handleRenderAll(ctx context.Context, chatID int64) {
	b.sendText(chatID, "Drawing every panel that has no image yet...")
	report, err := b.batch.GenerateMissing(ctx, project.KindPanel)
	if err != nil && len(report.Items) == 0 {
		b.replyError(chatID, err)
		return
	}

	for _, item := range report.Items {
		if item.Outcome != service.BatchGenerated {
			continue
		}
		if p, err := b.generations.Session().Panel(item.UnitID); err == nil {
			b.sendAsset(chatID, p.Asset, fmt.Sprintf("Panel %d", p.Number))
		}
	}
	b.sendText(chatID, formatReport(report))
}

func (b *Bot) sendAsset(chatID int64, asset *project.Asset, caption string) {
	var photo tgbotapi.PhotoConfig
	switch {
	case asset == nil:
		b.sendText(chatID, "No image came back.")
		return
	case asset.URL != "":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(asset.URL))
	case len(asset.Bytes) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "mangaforge.png", Bytes: asset.Bytes})
	default:
		b.sendText(chatID, "No image came back.")
		return
	}
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send image", "err", err)
	}
}

func (b *Bot) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		b.sendText(chatID, "Not enough diamonds. See /plans to top up.")
	case errors.Is(err, project.ErrUnitBusy):
		b.sendText(chatID, "That one is still being drawn.")
	case errors.Is(err, service.ErrSweepInProgress):
		b.sendText(chatID, "A batch is already running.")
	case errors.Is(err, service.ErrNothingToGenerate):
		b.sendText(chatID, "There are no panels yet. Try /script.")
	case errors.Is(err, service.ErrPremiseRequired):
		b.sendText(chatID, "Set a premise first with /premise.")
	case errors.Is(err, service.ErrTopicRequired), errors.Is(err, service.ErrNameRequired), errors.Is(err, service.ErrTraitsRequired):
		b.sendText(chatID, "That needs some text.")
	case errors.Is(err, service.ErrUnknownPlan):
		b.sendText(chatID, "No such plan. See /plans.")
	case errors.Is(err, service.ErrPlanNotPurchasable):
		b.sendText(chatID, "That plan cannot be bought.")
	case errors.Is(err, service.ErrCheckoutVerifying):
		b.sendText(chatID, "Still verifying that payment.")
	case errors.Is(err, service.ErrCheckoutNotFound):
		b.sendText(chatID, "That checkout has expired. Start again with /buy.")
	case errors.Is(err, service.ErrAdminSecretMismatch), errors.Is(err, service.ErrAdminGrantDisabled):
		b.sendText(chatID, "Access denied.")
	case errors.Is(err, service.ErrProviderFailure):
		b.log.Error("generation failed", "err", err)
		b.sendText(chatID, "Generation failed. The diamonds were spent; try again later.")
	default:
		b.log.Error("telegram handler error", "err", err)
		b.sendText(chatID, "Something went wrong, please try again later.")
	}
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func helpText() string {
	return fmt.Sprintf(`MangaForge studio

/balance - plan and diamonds
/plans - top-up plans
/buy CODE - buy a plan
/story TOPIC - write a whole comic (%d)
/premise TEXT - set the premise
/script - split the premise into panels (%d)
/character NAME | TRAITS - design a character (%d)
/panels - list panels
/render N - draw panel N (%d)
/renderall - draw every panel without an image
/lang en|vi - writing language`,
		ledger.ActionStory.Cost(), ledger.ActionScript.Cost(), ledger.ActionCharacter.Cost(), ledger.ActionPanel.Cost())
}

func formatPanels(panels []project.Panel) string {
	if len(panels) == 0 {
		return "No panels yet."
	}
	var sb strings.Builder
	for i, p := range panels {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. [%s] %s", p.Number, p.Status, p.Description)
		if p.Dialogue != "" {
			fmt.Fprintf(&sb, " %q", p.Dialogue)
		}
	}
	return sb.String()
}

func formatReport(r service.BatchReport) string {
	text := fmt.Sprintf("Done: %d drawn, %d failed, %d rejected for diamonds.", r.Generated, r.Failed, r.Rejected)
	if r.Stopped {
		text += " The batch stopped early."
	}
	return text
}

func formatVND(v int64) string {
	s := strconv.FormatInt(v, 10)
	var sb strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
