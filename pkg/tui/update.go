package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nexaview/pkg/models"
	"nexaview/pkg/utils"
	"nexaview/pkg/watcher"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func errorText(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidAddress):
		return "Invalid Nexa address"
	case errors.Is(err, watcher.ErrBalanceUnavailable):
		return "Balance unavailable, try again later"
	case errors.Is(err, watcher.ErrUnknownWallet):
		return "Wallet is no longer tracked"
	case errors.Is(err, errInvalidAmount):
		return "Amount must be a number with at most 2 decimals"
	default:
		return err.Error()
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.FocusMsg:
		cmds = append(cmds, lifecycleCmd(m.watcher, "focus"))

	case tea.BlurMsg:
		cmds = append(cmds, lifecycleCmd(m.watcher, "hidden"))

	case watcher.Event:
		cmds = append(cmds, listenForWatcher(m.sub))

		switch msg.Type {
		case watcher.EventBalanceUpdated:
			if u, ok := msg.Data.(models.BalanceUpdate); ok {
				if m.applyBalance(u) && u.Changed {
					m.statusMessage = fmt.Sprintf("Balance updated: %s NEXA", m.displayBalance(u.Balance))
					cmds = append(cmds, clearStatusAfter(2*time.Second))
				}
			}
		case watcher.EventStatusUpdated:
			if s, ok := msg.Data.(models.ConnectionState); ok {
				m.state = s
			}
		case watcher.EventWalletsChanged:
			if ws, ok := msg.Data.([]models.Wallet); ok {
				m.applyWallets(ws)
				m.loading = false
			}
		case watcher.EventPaymentReceived:
			if p, ok := msg.Data.(models.PaymentEvent); ok {
				m.lastPayment = &p
				m.statusMessage = fmt.Sprintf("Payment received: +%s NEXA", m.displayBalance(p.Received))
				cmds = append(cmds, clearStatusAfter(5*time.Second))
			}
		}
		m.lastUpdate = time.Now()

	case trackResultMsg:
		m.loading = false
		if msg.err != nil {
			m.statusMessage = errorText(msg.err)
		} else {
			m.statusMessage = fmt.Sprintf("Tracking %s", msg.wallet.Name)
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case refreshResultMsg:
		m.loading = false
		if msg.err != nil {
			m.statusMessage = "Refresh failed: " + errorText(msg.err)
		} else {
			m.applyBalance(models.BalanceUpdate{Address: msg.address, Balance: msg.wallet.Balance, At: msg.wallet.LastUpdated})
			m.statusMessage = "Balance refreshed"
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case refreshAllResultMsg:
		m.loading = false
		if msg.err != nil {
			m.statusMessage = "Refresh failed: " + errorText(msg.err)
		} else {
			m.statusMessage = "All balances refreshed"
		}
		if m.watcher != nil {
			m.applyWallets(m.watcher.Wallets())
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case opResultMsg:
		if msg.err != nil {
			m.statusMessage = errorText(msg.err)
		} else {
			m.statusMessage = msg.status
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case watchResultMsg:
		if msg.err != nil && m.receiveAddress == msg.address {
			m.statusMessage = "Payment watch failed: " + errorText(msg.err)
			cmds = append(cmds, clearStatusAfter(2*time.Second))
		}

	case tea.KeyMsg:
		m.lastInteraction = time.Now()
		return m.handleKey(msg)

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""
	}

	if m.loading {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) inputMode() bool {
	return m.adding || m.renaming || m.showReceive
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	key := msg.String()

	if !m.inputMode() && key == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		if key == "q" || key == "esc" || key == "?" {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case m.adding:
		return m.handleAddKey(msg)
	case m.renaming:
		return m.handleRenameKey(msg)
	case m.confirmDelete:
		switch key {
		case "y", "Y", "enter":
			m.confirmDelete = false
			if w, ok := m.activeWallet(); ok {
				return m, untrackCmd(m.watcher, w.Address)
			}
		case "n", "N", "q", "esc":
			m.confirmDelete = false
		}
		return m, nil
	case m.showReceive:
		return m.handleReceiveKey(msg)
	case m.showDonate:
		switch key {
		case "q", "esc", "D":
			m.showDonate = false
		case "c":
			cmd := m.copyAddress(m.donationAddress)
			return m, cmd
		case "w":
			m.showDonate = false
			return m.openReceive(m.donationAddress)
		}
		return m, nil
	case m.showDetail:
		switch key {
		case "q", "esc", "enter", "backspace":
			m.showDetail = false
		case "r":
			if w, ok := m.activeWallet(); ok {
				m.loading = true
				return m, tea.Batch(refreshCmd(m.watcher, w.Address), m.spinner.Tick)
			}
		case "c":
			if w, ok := m.activeWallet(); ok {
				cmd := m.copyAddress(w.Address)
				return m, cmd
			}
		}
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "a":
		m.adding = true
		m.addFocus = 0
		for i := range m.addressInputs {
			m.addressInputs[i].SetValue("")
			m.addressInputs[i].Blur()
		}
		m.addressInputs[0].Focus()
		return m, textinput.Blink

	case "e":
		if w, ok := m.activeWallet(); ok {
			m.renaming = true
			m.renameInput.SetValue(w.Name)
			m.renameInput.Focus()
			return m, textinput.Blink
		}

	case "d", "delete":
		if _, ok := m.activeWallet(); ok {
			m.confirmDelete = true
		}

	case "r":
		if w, ok := m.activeWallet(); ok {
			m.loading = true
			m.statusMessage = "Refreshing balance..."
			cmds = append(cmds, refreshCmd(m.watcher, w.Address), m.spinner.Tick)
		}

	case "R":
		if len(m.wallets) > 0 {
			m.loading = true
			m.statusMessage = "Refreshing all balances..."
			cmds = append(cmds, refreshAllCmd(m.watcher), m.spinner.Tick)
		}

	case "F":
		cmds = append(cmds, reconnectCmd(m.watcher))

	case "P":
		m.privacyMode = !m.privacyMode

	case "D":
		m.showDonate = true

	case "v":
		if w, ok := m.activeWallet(); ok {
			return m.openReceive(w.Address)
		}

	case "enter":
		if len(m.wallets) > 0 {
			m.showDetail = true
		}

	case "c":
		if w, ok := m.activeWallet(); ok {
			cmds = append(cmds, m.copyAddress(w.Address))
		}

	case "tab", "down", "j":
		if len(m.wallets) > 0 {
			m.activeIdx = (m.activeIdx + 1) % len(m.wallets)
		}
	case "shift+tab", "up", "k":
		if len(m.wallets) > 0 {
			m.activeIdx--
			if m.activeIdx < 0 {
				m.activeIdx = len(m.wallets) - 1
			}
		}
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleAddKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.adding = false
		return m, nil
	case "tab", "shift+tab", "up", "down":
		m.addressInputs[m.addFocus].Blur()
		m.addFocus = (m.addFocus + 1) % len(m.addressInputs)
		m.addressInputs[m.addFocus].Focus()
		return m, textinput.Blink
	case "enter":
		if m.addFocus == 0 {
			m.addressInputs[0].Blur()
			m.addFocus = 1
			m.addressInputs[1].Focus()
			return m, textinput.Blink
		}
		address := strings.TrimSpace(m.addressInputs[0].Value())
		name := strings.TrimSpace(m.addressInputs[1].Value())
		if !models.ValidAddress(address) {
			m.statusMessage = errorText(models.ErrInvalidAddress)
			return m, clearStatusAfter(2 * time.Second)
		}
		m.adding = false
		m.loading = true
		m.statusMessage = "Fetching balance..."
		return m, tea.Batch(trackCmd(m.watcher, address, name), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.addressInputs[m.addFocus], cmd = m.addressInputs[m.addFocus].Update(msg)
	return m, cmd
}

func (m model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.renaming = false
		m.renameInput.Blur()
		return m, nil
	case "enter":
		m.renaming = false
		m.renameInput.Blur()
		if w, ok := m.activeWallet(); ok {
			return m, renameCmd(m.watcher, w.Address, strings.TrimSpace(m.renameInput.Value()))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.renameInput, cmd = m.renameInput.Update(msg)
	return m, cmd
}

func (m model) openReceive(address string) (tea.Model, tea.Cmd) {
	m.showReceive = true
	m.receiveAddress = address
	m.lastPayment = nil
	m.amountInput.SetValue("")
	m.amountInput.Focus()
	return m, tea.Batch(watchCmd(m.watcher, address, false), textinput.Blink)
}

func (m model) handleReceiveKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.watcher != nil {
		m.watcher.TouchPaymentWatch()
	}
	switch msg.String() {
	case "esc":
		m.showReceive = false
		m.amountInput.Blur()
		if m.watcher != nil {
			m.watcher.StopPaymentWatch()
		}
		return m, nil
	case "ctrl+y":
		cmd := m.copyAddress(m.receiveAddress)
		return m, cmd
	case "enter":
		amount, err := parseAmount(m.amountInput.Value())
		if err != nil {
			m.statusMessage = errorText(err)
			return m, clearStatusAfter(2 * time.Second)
		}
		if m.watcher != nil {
			m.watcher.SetPaymentRequested(amount > 0)
		}
		if amount > 0 {
			m.statusMessage = fmt.Sprintf("Requesting %s NEXA", utils.FormatBalance(amount))
		} else {
			m.statusMessage = "Waiting for any payment"
		}
		return m, clearStatusAfter(2 * time.Second)
	}

	var cmd tea.Cmd
	m.amountInput, cmd = m.amountInput.Update(msg)
	return m, cmd
}

func (m *model) copyAddress(address string) tea.Cmd {
	if err := clipboard.WriteAll(address); err != nil {
		m.statusMessage = "Failed to copy to clipboard"
	} else if m.privacyMode {
		m.statusMessage = "Full address copied (Privacy Mode active)!"
	} else {
		m.statusMessage = "Address copied to clipboard!"
	}
	return clearStatusAfter(2 * time.Second)
}
