package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hwid-license-server/internal/audit"
	"hwid-license-server/internal/lifecycle"
	"hwid-license-server/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminChat int64 = 42

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	callbacks []tgbotapi.CallbackConfig
	updates   chan tgbotapi.Update
	sendErr   error
	attempts  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {}

// texts returns the text of every message sent so far and resets the log.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	f.sent = nil
	return out
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *lifecycle.Engine) {
	t.Helper()
	st, err := store.OpenBBolt(filepath.Join(t.TempDir(), "licenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := lifecycle.New(st, lifecycle.WithClock(fixedClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}))
	api := newFakeAPI()
	return NewBot(api, adminChat, eng, nil), api, eng
}

func message(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
}

func callback(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{ID: "cb", Data: data, Message: message(chatID, "")}
}

func TestBot_RejectsStrangers(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(7, "/start"))
	assert.Equal(t, []string{"This bot is for the administrator only."}, api.texts())

	b.handleCallback(ctx, callback(7, "list"))
	require.Len(t, api.callbacks, 1)
	assert.Equal(t, "Access denied", api.callbacks[0].Text)
	assert.Empty(t, api.texts())
}

func TestBot_RegisterActivateFlow(t *testing.T) {
	b, api, eng := newTestBot(t)
	ctx := context.Background()

	b.handleCallback(ctx, callback(adminChat, "register"))
	assert.Equal(t, []string{"Send the HWID to register:"}, api.texts())

	b.handleMessage(ctx, message(adminChat, "HW-1"))
	out := api.texts()
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0], "License registered:"), out[0])
	assert.Equal(t, stateNone, b.getState(adminChat))

	rec, err := eng.Lookup(ctx, "HW-1")
	require.NoError(t, err)

	b.handleCallback(ctx, callback(adminChat, "ask_activate"))
	api.texts()

	// Bad input keeps the pending state.
	b.handleMessage(ctx, message(adminChat, rec.Key))
	assert.Equal(t, []string{"Invalid input. Format: <key> <days>"}, api.texts())
	assert.Equal(t, stateAskActivate, b.getState(adminChat))

	b.handleMessage(ctx, message(adminChat, rec.Key+" 30"))
	out = api.texts()
	require.NotEmpty(t, out)
	assert.Equal(t, "OK\n"+rec.Key+"\nDays left: 30", out[0])

	res, err := eng.Check(ctx, "HW-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusOK, res.Status)

	b.handleMessage(ctx, message(adminChat, "HW-1"))
	assert.Equal(t, []string{"Use the buttons to manage licenses."}, api.texts())
}

func TestBot_BanUnbanAndInfo(t *testing.T) {
	b, api, eng := newTestBot(t)
	ctx := context.Background()

	reg, err := eng.Register(ctx, "HW-2")
	require.NoError(t, err)

	b.handleCallback(ctx, callback(adminChat, "ask_ban"))
	b.handleMessage(ctx, message(adminChat, reg.Key))
	out := api.texts()
	assert.Contains(t, out, "Banned: "+reg.Key)

	b.handleCallback(ctx, callback(adminChat, "info:"+reg.Key))
	out = api.texts()
	require.NotEmpty(t, out)
	assert.Contains(t, out[0], "State: banned")
	assert.Contains(t, out[0], "HWID: HW-2")

	b.handleCallback(ctx, callback(adminChat, "ask_unban"))
	b.handleMessage(ctx, message(adminChat, reg.Key))
	assert.Contains(t, api.texts(), "OK\n"+reg.Key)

	b.handleCallback(ctx, callback(adminChat, "ask_ban"))
	b.handleMessage(ctx, message(adminChat, "NOPE"))
	assert.Contains(t, api.texts(), "Unknown license key: NOPE")

	b.handleCallback(ctx, callback(adminChat, "ask_info"))
	b.handleMessage(ctx, message(adminChat, "missing-hwid"))
	assert.Contains(t, api.texts(), "No license for missing-hwid")
}

func TestBot_List(t *testing.T) {
	b, api, eng := newTestBot(t)
	ctx := context.Background()

	b.handleCallback(ctx, callback(adminChat, "list"))
	assert.Equal(t, []string{"No licenses yet"}, api.texts())

	for _, hwid := range []string{"A", "B"} {
		_, err := eng.Register(ctx, hwid)
		require.NoError(t, err)
	}
	b.handleCallback(ctx, callback(adminChat, "list"))

	api.mu.Lock()
	require.Len(t, api.sent, 1)
	msg := api.sent[0]
	api.mu.Unlock()
	assert.Contains(t, msg.Text, "| A | days=0 | inactive")
	assert.Contains(t, msg.Text, "| B | days=0 | inactive")
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.InlineKeyboard, 3)
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	api.updates <- tgbotapi.Update{Message: message(adminChat, "/menu")}
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.sent) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifier_DeliversInBackground(t *testing.T) {
	api := newFakeAPI()
	n := NewNotifier(api, adminChat, nil)
	days := 5
	ev := audit.Event{
		Time:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Action: audit.ActionActivate,
		Key:    "ABCD",
		HWID:   "HW",
		Days:   &days,
	}
	require.NoError(t, n.Record(context.Background(), ev))
	assert.Zero(t, api.sentCount(), "nothing is sent before Run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	require.Eventually(t, func() bool { return api.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	api.mu.Lock()
	msg := api.sent[0]
	api.mu.Unlock()
	assert.Equal(t, adminChat, msg.ChatID)
	assert.Equal(t, "2026-05-01T10:00:00Z | activate | key=ABCD | hwid=HW | days=5", msg.Text)
}

func TestNotifier_SendFailureDoesNotStopDelivery(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("down")
	n := NewNotifier(api, adminChat, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	require.NoError(t, n.Record(ctx, audit.Event{Action: audit.ActionBan, Key: "K"}))
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.attempts == 1
	}, time.Second, 10*time.Millisecond)

	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()
	require.NoError(t, n.Record(ctx, audit.Event{Action: audit.ActionUnban, Key: "K"}))
	require.Eventually(t, func() bool { return api.sentCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotifier_RecordNeverBlocks(t *testing.T) {
	n := NewNotifier(newFakeAPI(), adminChat, nil)
	for i := 0; i < notifyQueueSize; i++ {
		require.NoError(t, n.Record(context.Background(), audit.Event{Action: audit.ActionExpire}))
	}
	assert.ErrorIs(t, n.Record(context.Background(), audit.Event{Action: audit.ActionExpire}), ErrQueueFull)
}
