package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nexaview/pkg/models"
	"nexaview/pkg/resume"
	"nexaview/pkg/utils"
	"nexaview/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

const commandTimeout = 15 * time.Second

var errInvalidAmount = errors.New("invalid amount")

func totalBalance(wallets []models.Wallet) int64 {
	var total int64
	for _, w := range wallets {
		total += w.Balance
	}
	return total
}

func appendHistory(hist []float64, v float64) []float64 {
	hist = append(hist, v)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	return hist
}

// statusLabel describes the live channel for the top bar.
func statusLabel(state models.ConnectionState) string {
	switch state {
	case models.StateConnected:
		return "● Live"
	case models.StateConnecting:
		return "◌ Connecting..."
	case models.StateReconnecting:
		return "◌ Reconnecting..."
	case models.StateFailed:
		return "✕ Manual refresh only"
	default:
		return "○ Offline"
	}
}

// parseAmount converts a decimal NEXA amount into minor units.
func parseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, nil
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (frac == "" || len(frac) > 2) {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	return w*utils.MinorUnitsPerCoin + f, nil
}

func (m model) activeWallet() (models.Wallet, bool) {
	if m.activeIdx < 0 || m.activeIdx >= len(m.wallets) {
		return models.Wallet{}, false
	}
	return m.wallets[m.activeIdx], true
}

// applyWallets replaces the list while keeping the selection on the same address.
func (m *model) applyWallets(wallets []models.Wallet) {
	selected := ""
	if w, ok := m.activeWallet(); ok {
		selected = w.Address
	}

	m.wallets = wallets
	m.activeIdx = 0
	seen := make(map[string]bool, len(wallets))
	for i, w := range wallets {
		seen[w.Address] = true
		if w.Address == selected {
			m.activeIdx = i
		}
		hist := m.history[w.Address]
		if len(hist) == 0 || hist[len(hist)-1] != utils.BalanceToFloat(w.Balance) {
			m.history[w.Address] = appendHistory(hist, utils.BalanceToFloat(w.Balance))
		}
	}
	for addr := range m.history {
		if !seen[addr] {
			delete(m.history, addr)
		}
	}
}

// applyBalance folds a confirmed balance into the list. Unknown addresses are ignored.
func (m *model) applyBalance(u models.BalanceUpdate) bool {
	for i := range m.wallets {
		if m.wallets[i].Address != u.Address {
			continue
		}
		m.wallets[i].Balance = u.Balance
		m.wallets[i].LastUpdated = u.At
		m.history[u.Address] = appendHistory(m.history[u.Address], utils.BalanceToFloat(u.Balance))
		return true
	}
	return false
}

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

func trackCmd(w *watcher.Watcher, address, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		wallet, err := w.Track(ctx, address, name)
		return trackResultMsg{wallet: wallet, err: err}
	}
}

func refreshCmd(w *watcher.Watcher, address string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		wallet, err := w.Refresh(ctx, address)
		return refreshResultMsg{address: address, wallet: wallet, err: err}
	}
}

func refreshAllCmd(w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return refreshAllResultMsg{err: w.RefreshAll(ctx)}
	}
}

func untrackCmd(w *watcher.Watcher, address string) tea.Cmd {
	return func() tea.Msg {
		if err := w.Untrack(address); err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{status: "Wallet removed"}
	}
}

func renameCmd(w *watcher.Watcher, address, name string) tea.Cmd {
	return func() tea.Msg {
		if err := w.Rename(address, name); err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{status: "Wallet renamed"}
	}
}

func watchCmd(w *watcher.Watcher, address string, requested bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return watchResultMsg{address: address, err: w.WatchPayment(ctx, address, requested)}
	}
}

// lifecycleCmd forwards terminal focus changes to the resume controller.
func lifecycleCmd(w *watcher.Watcher, event string) tea.Cmd {
	return func() tea.Msg {
		action, err := w.Lifecycle(event)
		if err != nil {
			return opResultMsg{err: err}
		}
		if action == resume.ActionReconnect {
			return opResultMsg{status: "Reconnecting live updates..."}
		}
		return nil
	}
}

func reconnectCmd(w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		w.ForceReconnect()
		return opResultMsg{status: "Reconnecting live updates..."}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}
