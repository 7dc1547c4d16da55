// Package telegram exposes the administrative license operations through a
// button-driven Telegram chat restricted to a single admin chat id.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hwid-license-server/internal/lifecycle"
	"hwid-license-server/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api         API
	adminChatID int64
	eng         *lifecycle.Engine
	log         *slog.Logger

	mu     sync.Mutex
	states map[int64]pendingState
}

type pendingState string

const (
	stateNone        pendingState = ""
	stateAskRegister pendingState = "ask_register"
	stateAskInfo     pendingState = "ask_info"
	stateAskActivate pendingState = "ask_activate"
	stateAskAddDays  pendingState = "ask_add_days"
	stateAskBan      pendingState = "ask_ban"
	stateAskUnban    pendingState = "ask_unban"
)

const listLimit = 20

// clientTimeout bounds every Bot API call; it must exceed the long-poll
// timeout used by Run.
const clientTimeout = 45 * time.Second

// Dial connects to the Bot API with token.
func Dial(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: clientTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = false
	return api, nil
}

func NewBot(api API, adminChatID int64, eng *lifecycle.Engine, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:         api,
		adminChatID: adminChatID,
		eng:         eng,
		log:         log.With("component", "telegram"),
		states:      map[int64]pendingState{},
	}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	upd := tgbotapi.NewUpdate(0)
	upd.Timeout = 30
	updates := b.api.GetUpdatesChan(upd)
	defer b.api.StopReceivingUpdates()

	b.log.Info("telegram bot started", "admin_chat", b.adminChatID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if chatID != b.adminChatID {
		b.reply(chatID, "This bot is for the administrator only.")
		return
	}

	if strings.HasPrefix(text, "/start") || strings.HasPrefix(text, "/help") || strings.HasPrefix(text, "/menu") {
		b.setState(chatID, stateNone)
		b.sendMenu(chatID, "License management")
		return
	}

	switch b.getState(chatID) {
	case stateAskRegister:
		b.setState(chatID, stateNone)
		b.cmdRegister(ctx, chatID, text)
	case stateAskInfo:
		b.setState(chatID, stateNone)
		b.cmdInfo(ctx, chatID, text)
	case stateAskActivate:
		b.handleDaysInput(ctx, chatID, text, true)
		return
	case stateAskAddDays:
		b.handleDaysInput(ctx, chatID, text, false)
		return
	case stateAskBan:
		b.setState(chatID, stateNone)
		b.cmdBan(ctx, chatID, text, true)
	case stateAskUnban:
		b.setState(chatID, stateNone)
		b.cmdBan(ctx, chatID, text, false)
	default:
		b.sendMenu(chatID, "Use the buttons to manage licenses.")
		return
	}
	b.sendMenu(chatID, "")
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	chatID := q.Message.Chat.ID

	if chatID != b.adminChatID {
		b.answerCallback(q.ID, "Access denied")
		return
	}

	data := strings.TrimSpace(q.Data)
	b.answerCallback(q.ID, "")

	switch {
	case data == "menu":
		b.setState(chatID, stateNone)
		b.sendMenu(chatID, "License management")
	case data == "register":
		b.setState(chatID, stateAskRegister)
		b.reply(chatID, "Send the HWID to register:")
	case data == "list":
		b.setState(chatID, stateNone)
		b.cmdList(ctx, chatID)
	case data == "ask_info":
		b.setState(chatID, stateAskInfo)
		b.reply(chatID, "Send a license key or HWID:")
	case data == "ask_activate":
		b.setState(chatID, stateAskActivate)
		b.reply(chatID, "Format: <key> <days>\nExample: 3F9A0C... 30")
	case data == "ask_add_days":
		b.setState(chatID, stateAskAddDays)
		b.reply(chatID, "Format: <key> <days> (days may be negative)")
	case data == "ask_ban":
		b.setState(chatID, stateAskBan)
		b.reply(chatID, "Send the license key to ban:")
	case data == "ask_unban":
		b.setState(chatID, stateAskUnban)
		b.reply(chatID, "Send the license key to unban:")
	case strings.HasPrefix(data, "info:"):
		b.setState(chatID, stateNone)
		b.cmdInfo(ctx, chatID, strings.TrimPrefix(data, "info:"))
		b.sendMenu(chatID, "")
	default:
		b.sendMenu(chatID, "Unknown action")
	}
}

func (b *Bot) sendMenu(chatID int64, title string) {
	if strings.TrimSpace(title) == "" {
		title = "Menu"
	}
	msg := tgbotapi.NewMessage(chatID, title)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Register", "register"),
			tgbotapi.NewInlineKeyboardButtonData("📋 List", "list"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Info", "ask_info"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Activate", "ask_activate"),
			tgbotapi.NewInlineKeyboardButtonData("📅 Add days", "ask_add_days"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⛔ Ban", "ask_ban"),
			tgbotapi.NewInlineKeyboardButtonData("♻️ Unban", "ask_unban"),
		),
	)
	b.send(msg)
}

func (b *Bot) cmdRegister(ctx context.Context, chatID int64, hwid string) {
	res, err := b.eng.Register(ctx, hwid)
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	if res.Status == lifecycle.StatusExists {
		b.reply(chatID, "HWID is already registered: "+hwid)
		return
	}
	b.reply(chatID, fmt.Sprintf("License registered:\n%s\nHWID: %s\nStatus: inactive until activated", res.Key, hwid))
}

func (b *Bot) cmdList(ctx context.Context, chatID int64) {
	list, err := b.eng.List(ctx)
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	if len(list) == 0 {
		b.reply(chatID, "No licenses yet")
		return
	}

	// Newest first; the store lists oldest first.
	n := min(len(list), listLimit)
	lines := []string{"Latest licenses (tap for details):"}
	buttons := make([][]tgbotapi.InlineKeyboardButton, 0, n+1)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		rec := list[i]
		lines = append(lines, fmt.Sprintf("- %s | %s | days=%d | %s", rec.Key, rec.HWID, rec.DaysLeft, stateLabel(rec)))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ "+shortKey(rec.Key), "info:"+rec.Key),
		))
	}
	if len(list) > n {
		lines = append(lines, fmt.Sprintf("... (%d more)", len(list)-n))
	}
	buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("↩️ Menu", "menu"),
	))

	msg := tgbotapi.NewMessage(chatID, strings.Join(lines, "\n"))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	b.send(msg)
}

func (b *Bot) cmdInfo(ctx context.Context, chatID int64, keyOrHWID string) {
	rec, err := b.eng.Lookup(ctx, keyOrHWID)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(chatID, "No license for "+keyOrHWID)
		return
	}
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	lastTick := "-"
	if rec.LastTick != nil {
		lastTick = rec.LastTick.Format(time.RFC3339)
	}
	b.reply(chatID, strings.Join([]string{
		"License: " + rec.Key,
		"HWID: " + rec.HWID,
		"State: " + stateLabel(rec),
		fmt.Sprintf("Days left: %d", rec.DaysLeft),
		"Last tick: " + lastTick,
		"Created: " + rec.CreatedAt.Format(time.RFC3339),
	}, "\n"))
}

// handleDaysInput parses "<key> <days>"; on a format error the pending state
// is kept so the admin can retry.
func (b *Bot) handleDaysInput(ctx context.Context, chatID int64, text string, activate bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		b.reply(chatID, "Invalid input. Format: <key> <days>")
		return
	}
	days, err := strconv.Atoi(fields[1])
	if err != nil || (activate && days <= 0) {
		b.reply(chatID, "Invalid number of days")
		return
	}
	b.setState(chatID, stateNone)

	var res lifecycle.Result
	if activate {
		res, err = b.eng.Activate(ctx, fields[0], days)
	} else {
		res, err = b.eng.AddDays(ctx, fields[0], days)
	}
	if err != nil {
		b.replyErr(chatID, err)
	} else {
		b.reply(chatID, describe(fields[0], res))
	}
	b.sendMenu(chatID, "")
}

func (b *Bot) cmdBan(ctx context.Context, chatID int64, key string, ban bool) {
	var (
		res lifecycle.Result
		err error
	)
	if ban {
		res, err = b.eng.Ban(ctx, key)
	} else {
		res, err = b.eng.Unban(ctx, key)
	}
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, describe(key, res))
}

func describe(key string, res lifecycle.Result) string {
	switch res.Status {
	case lifecycle.StatusInvalid:
		return "Unknown license key: " + key
	case lifecycle.StatusBanned:
		return "Banned: " + key
	case lifecycle.StatusOK:
		if res.DaysLeft != nil {
			return fmt.Sprintf("OK\n%s\nDays left: %d", key, *res.DaysLeft)
		}
		return "OK\n" + key
	default:
		return fmt.Sprintf("%s: %s", res.Status, key)
	}
}

func stateLabel(rec store.Record) string {
	switch {
	case rec.Banned:
		return "banned"
	case rec.Active:
		return "active"
	default:
		return "inactive"
	}
}

func shortKey(k string) string {
	k = strings.TrimSpace(k)
	if len(k) <= 12 {
		return k
	}
	return k[:6] + "..." + k[len(k)-4:]
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Warn("answer callback failed", "err", err)
	}
}

func (b *Bot) setState(chatID int64, st pendingState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st == stateNone {
		delete(b.states, chatID)
		return
	}
	b.states[chatID] = st
}

func (b *Bot) getState(chatID int64) pendingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[chatID]
}

func (b *Bot) replyErr(chatID int64, err error) {
	if errors.Is(err, lifecycle.ErrInvalidInput) {
		b.reply(chatID, "Invalid input: "+err.Error())
		return
	}
	b.log.Error("admin action failed", "err", err)
	b.reply(chatID, "Internal error, see server logs")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("telegram send failed", "err", err)
	}
}
