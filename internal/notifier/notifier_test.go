package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/position"
)

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []string
	failSend int
}

func (f *fakeTelegram) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Sentinel","username":"sentinel_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSend > 0 {
			f.failSend--
			_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests"}`))
			return
		}
		f.sent = append(f.sent, r.FormValue("text"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestNotifier(t *testing.T, fake *fakeTelegram) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	n, err := newTelegramNotifier("TOKEN", "42", "", srv.URL+"/bot%s/%s", logger.Nop())
	require.NoError(t, err)
	n.retryBase = time.Millisecond
	return n
}

func TestTelegramNotifier_Send(t *testing.T) {
	fake := &fakeTelegram{}
	n := newTestNotifier(t, fake)
	require.NoError(t, n.Send("<b>hello</b>"))
	assert.Equal(t, []string{"<b>hello</b>"}, fake.sent)
}

func TestTelegramNotifier_SendWithRetry(t *testing.T) {
	fake := &fakeTelegram{failSend: 2}
	n := newTestNotifier(t, fake)
	require.NoError(t, n.SendWithRetry(context.Background(), "retry me", 3))
	assert.Equal(t, []string{"retry me"}, fake.sent)

	fake.failSend = 5
	err := n.SendWithRetry(context.Background(), "give up", 1)
	assert.Error(t, err)
}

func TestNewTelegramNotifier_BadChatID(t *testing.T) {
	_, err := NewTelegramNotifier("TOKEN", "not-a-number", "", logger.Nop())
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	n := newTestNotifier(t, &fakeTelegram{})

	var got []string
	handler := func(cmd string) string {
		got = append(got, cmd)
		return ""
	}
	n.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{Text: " /status@sentinel_bot ", Chat: &tgbotapi.Chat{ID: 42}}}, handler)
	n.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{Text: "/stopbot", Chat: &tgbotapi.Chat{ID: 99}}}, handler)
	n.dispatch(tgbotapi.Update{}, handler)

	assert.Equal(t, []string{"/status"}, got)
}

func TestFormatOutcome(t *testing.T) {
	pos := model.Position{Direction: model.DirectionLong, EntryPrice: 100, Leverage: 3, Status: model.StatusOpen}

	msg := FormatOutcome(position.Outcome{Action: position.ActionOpened, Signal: model.SignalBuy, Position: pos, Price: 100, TxRef: "0x1"}, nil)
	assert.Contains(t, msg, "LONG opened")
	assert.Contains(t, msg, "x3")

	msg = FormatOutcome(position.Outcome{Action: position.ActionClosed, Reason: position.ReasonStopLoss, Position: pos, Price: 96.9, PnLPct: -3.1}, nil)
	assert.Contains(t, msg, "STOP_LOSS")
	assert.Contains(t, msg, "-3.10%")
	assert.Contains(t, msg, "300.00")

	msg = FormatOutcome(position.Outcome{Action: position.ActionCloseFailed, Reason: position.ReasonTakeProfit, Position: pos, Price: 104}, errors.New("reverted"))
	assert.Contains(t, msg, "still open")
	assert.Contains(t, msg, "reverted")

	assert.Empty(t, FormatOutcome(position.Outcome{Action: position.ActionHold}, nil))
}

func TestFormatStatus(t *testing.T) {
	msg := FormatStatus(false, model.StateNone, 0, time.Time{})
	assert.Contains(t, msg, "stopped")
	assert.Contains(t, msg, "never")

	msg = FormatStatus(true, model.StateOpenShort, 2450.5, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	assert.Contains(t, msg, "running")
	assert.Contains(t, msg, "OPEN_SHORT")
	assert.Contains(t, msg, "2450.50")
}

func TestFormatPosition(t *testing.T) {
	pos := model.Position{Direction: model.DirectionShort, EntryPrice: 2000, Leverage: 3}
	snap := &model.IndicatorSnapshot{CurrentPrice: 1900, High: 2100, Low: 1900, StochK: model.Float(12.5)}

	msg := FormatPosition(pos, snap)
	assert.Contains(t, msg, "SHORT x3")
	assert.Contains(t, msg, "+5.00%")
	assert.Contains(t, msg, "K: 12.5")
	assert.Contains(t, msg, "at 0%")
	assert.NotContains(t, msg, "MA:")
}

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "No activity yet.", FormatLog(nil))
	msg := FormatLog([]model.LogEntry{{Level: model.LevelTrade, Message: "BUY opened", Timestamp: time.Now()}})
	assert.Contains(t, msg, "[trade] BUY opened")
}
