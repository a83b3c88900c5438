package notifier

import (
	"fmt"
	"strings"
	"time"

	"PositionSentinel/internal/calculator"
	"PositionSentinel/internal/model"
	"PositionSentinel/internal/position"
)

// FormatOutcome formats a state machine transition. Holds produce no message.
func FormatOutcome(out position.Outcome, err error) string {
	pos := out.Position
	switch out.Action {
	case position.ActionOpened:
		return fmt.Sprintf("🟢 <b>%s opened</b> | %s\n\nEntry: %.2f\nLeverage: x%d\nTx: <code>%s</code>",
			pos.Direction, out.Signal, pos.EntryPrice, pos.Leverage, out.TxRef)
	case position.ActionClosed:
		return fmt.Sprintf("🔴 <b>%s closed</b> | %s\n\nEntry: %.2f → Exit: %.2f (%+.2f%%)\nSize: %.2f\nTx: <code>%s</code>",
			pos.Direction, out.Reason, pos.EntryPrice, out.Price, out.PnLPct, pos.Size(), out.TxRef)
	case position.ActionOpenFailed:
		return fmt.Sprintf("❌ <b>Open %s failed</b> at %.2f\n%v", pos.Direction, out.Price, err)
	case position.ActionCloseFailed:
		return fmt.Sprintf("❌ <b>Close %s failed</b> (%s) at %.2f\nPosition is still open.\n%v",
			pos.Direction, out.Reason, out.Price, err)
	default:
		return ""
	}
}

// FormatStatus formats the loop status line.
func FormatStatus(running bool, state model.State, lastPrice float64, lastTick time.Time) string {
	var b strings.Builder
	b.WriteString("📊 <b>PositionSentinel</b>\n\n")
	if running {
		b.WriteString("Bot: running ✅\n")
	} else {
		b.WriteString("Bot: stopped ⏸\n")
	}
	b.WriteString(fmt.Sprintf("State: %s\n", state))
	if lastTick.IsZero() {
		b.WriteString("Last tick: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last price: %.2f\n", lastPrice))
		b.WriteString(fmt.Sprintf("Last tick: %s\n", lastTick.UTC().Format("2006-01-02 15:04 MST")))
	}
	return b.String()
}

// FormatPosition formats the open position against the latest snapshot.
func FormatPosition(pos model.Position, snap *model.IndicatorSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>%s x%d</b>\n\n", pos.Direction, pos.Leverage))
	b.WriteString(fmt.Sprintf("Entry: %.2f\n", pos.EntryPrice))
	b.WriteString(fmt.Sprintf("Opened: %s\n", pos.OpenedAt.UTC().Format("2006-01-02 15:04")))
	if snap == nil {
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Price: %.2f (%+.2f%%)\n", snap.CurrentPrice, pos.ChangePct(snap.CurrentPrice)))
	if snap.MovingAverage != nil {
		b.WriteString(fmt.Sprintf("MA: %.2f\n", *snap.MovingAverage))
	}
	if snap.StochK != nil {
		b.WriteString(fmt.Sprintf("StochRSI K: %.1f\n", *snap.StochK))
	}
	if rp, err := calculator.RangePosition(snap.CurrentPrice, snap.High, snap.Low); err == nil {
		b.WriteString(fmt.Sprintf("Range: %.2f – %.2f (at %.0f%%)\n", snap.Low, snap.High, rp*100))
	}
	return b.String()
}

// FormatLog formats recent activity, newest first.
func FormatLog(entries []model.LogEntry) string {
	if len(entries) == 0 {
		return "No activity yet."
	}
	var b strings.Builder
	b.WriteString("🗒 <b>Recent activity</b>\n\n")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%s [%s] %s\n", e.Timestamp.UTC().Format("01-02 15:04"), e.Level, e.Message))
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Commands:\n• /status\n• /position\n• /log\n• /startbot\n• /stopbot"
}
