package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"nexaview/pkg/utils"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}

	if m.adding {
		labels := []string{"Address", "Name"}
		var inputs []string
		for i, label := range labels {
			inputs = append(inputs, fmt.Sprintf("%-10s %s", label, m.addressInputs[i].View()))
		}
		return m.overlay(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Add Wallet"),
			"\n",
			strings.Join(inputs, "\n"),
			"\n",
			m.statusLine(),
			subtleStyle.Render("Enter to next/save • Tab to switch • Esc to cancel"),
		)))
	}

	if m.renaming {
		w, _ := m.activeWallet()
		return m.overlay(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Rename Wallet"),
			"\n",
			fmt.Sprintf("Address: %s", m.maskAddress(w.Address)),
			"\n",
			m.renameInput.View(),
			"\n",
			subtleStyle.Render("Enter to save • Esc to cancel"),
		)))
	}

	if m.confirmDelete {
		w, _ := m.activeWallet()
		return m.overlay(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
			titleStyle.Render("Remove Wallet"),
			"\n",
			fmt.Sprintf("Stop tracking %s?", w.Name),
			subtleStyle.Render(m.maskAddress(w.Address)),
			"\n",
			subtleStyle.Render("(y) Yes • (n) No"),
		)))
	}

	if m.showReceive {
		return m.viewReceive()
	}

	if m.showDonate {
		return m.viewDonate()
	}

	if m.showDetail {
		return m.viewDetail()
	}

	return m.viewMain()
}

func (m model) overlay(content string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m model) statusLine() string {
	if m.statusMessage == "" {
		return ""
	}
	return infoStyle.Render(m.statusMessage)
}

func (m model) topBar() string {
	state := statusStyle(m.state).Render(" " + statusLabel(m.state))
	leftBlock := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("NexaView"), state)

	spinnerView := ""
	if m.loading {
		spinnerView = m.spinner.View() + " "
	}
	privacyIndicator := ""
	if m.privacyMode {
		privacyIndicator = "🔒 "
	}
	lastUpdStr := "Waiting for data"
	if !m.lastUpdate.IsZero() {
		lastUpdStr = "Last event: " + m.lastUpdate.Format("15:04:05")
	}
	rightBlock := subtleStyle.Render(fmt.Sprintf("%s%s%s ", spinnerView, privacyIndicator, lastUpdStr))

	gap := m.width - lipgloss.Width(leftBlock) - lipgloss.Width(rightBlock)
	if gap < 0 {
		gap = 0
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, leftBlock, strings.Repeat(" ", gap), rightBlock)
}

func (m model) viewMain() string {
	now := time.Now()

	var content string
	if len(m.wallets) == 0 {
		content = boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
			"No wallets tracked yet.",
			subtleStyle.Render("Press 'a' to add a Nexa address."),
		))
	} else {
		headerRow := tableHeaderStyle.Render(fmt.Sprintf("  %-20s %-24s %18s %14s", "Name", "Address", "Balance (NEXA)", "Updated"))
		var rows []string
		for i, w := range m.wallets {
			row := fmt.Sprintf("%-20s %-24s %18s %14s",
				utils.TruncateString(m.maskString(w.Name), 20),
				utils.TruncateString(m.maskAddress(utils.ShortAddress(w.Address, 8)), 24),
				m.displayBalance(w.Balance),
				utils.FormatRelativeTime(w.LastUpdated, now),
			)
			if i == m.activeIdx {
				rows = append(rows, selectedStyle.Render("> "+row))
			} else {
				rows = append(rows, "  "+row)
			}
		}
		totalRow := balanceStyle.Render(fmt.Sprintf("  %-45s %18s", "Total", m.displayBalance(totalBalance(m.wallets))))
		content = boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			headerRow,
			strings.Join(rows, "\n"),
			"",
			totalRow,
		))
	}

	line1 := "a:add • e:rename • d:del • c:copy • ent:chart • v:receive • D:donate • ?:help • q:quit"
	line2 := "Tab/j/k:select • P:privacy"
	if !m.state.Live() {
		line2 = "r:refresh • R:refresh all • F:reconnect • " + line2
	}
	line2 += fmt.Sprintf(" • v%s", Version)

	var footer string
	if m.width > 0 {
		l1 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line1)
		l2 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line2)
		footer = lipgloss.JoinVertical(lipgloss.Center, l1, l2)
	} else {
		footer = subtleStyle.Render(line1 + "\n" + line2)
	}
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}

	h := m.height - 1
	if h < 0 {
		h = 0
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.topBar(),
		lipgloss.Place(
			m.width,
			h,
			lipgloss.Center,
			lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
		),
	)
}

func (m model) viewDetail() string {
	w, ok := m.activeWallet()
	if !ok {
		return m.overlay("No wallet selected.")
	}
	header := titleStyle.Render(w.Name)

	info := lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("Address: %s", m.maskAddress(w.Address)),
		fmt.Sprintf("Updated: %s", utils.FormatRelativeTime(w.LastUpdated, time.Now())),
	)
	balance := balanceStyle.Render(fmt.Sprintf("%s NEXA", m.displayBalance(w.Balance)))

	width := m.width - 20
	if width < 10 {
		width = 10
	}
	height := m.height - 16
	if height < 3 {
		height = 3
	}

	var graph string
	hist := m.history[w.Address]
	switch {
	case m.privacyMode:
		graph = subtleStyle.Render("Chart hidden in Privacy Mode.")
	case len(hist) > 1:
		graph = asciigraph.Plot(hist,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Caption("Balance History (NEXA)"),
		)
	default:
		graph = "Not enough data to draw graph."
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", info, "\n", balance, "\n", graph))
	footer := subtleStyle.Render("r: refresh • c: copy address • enter/esc/q: back")
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}
	return m.overlay(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewReceive() string {
	header := titleStyle.Render("Receive NEXA")

	watching := subtleStyle.Render("Starting payment watch...")
	if m.watcher != nil && m.watcher.Snapshot().Watching == m.receiveAddress {
		watching = subtleStyle.Render(fmt.Sprintf("Watching for payments • checking every %s", m.watcher.PaymentWatchInterval()))
	}

	payment := subtleStyle.Render("No payment received yet.")
	if m.lastPayment != nil && m.lastPayment.Address == m.receiveAddress {
		payment = infoStyle.Render(fmt.Sprintf("Received +%s NEXA at %s (balance %s)",
			m.displayBalance(m.lastPayment.Received),
			m.lastPayment.At.Format("15:04:05"),
			m.displayBalance(m.lastPayment.Balance),
		))
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		header,
		"\n",
		"Send to:",
		balanceStyle.Render(m.receiveAddress),
		"\n",
		fmt.Sprintf("Amount  %s", m.amountInput.View()),
		"\n",
		watching,
		payment,
	))
	footer := subtleStyle.Render("enter: set amount • ctrl+y: copy address • esc: back")
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}
	return m.overlay(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewDonate() string {
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render("Support NexaView"),
		"\n",
		"Donations keep the project running. Thank you!",
		"\n",
		balanceStyle.Render(m.donationAddress),
	))
	footer := subtleStyle.Render("c: copy address • w: watch for donations • esc/q: back")
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}
	return m.overlay(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewHelp() string {
	var title string
	var shortcuts []string

	switch {
	case m.showDetail:
		title = "Balance Chart"
		shortcuts = []string{"r: Refresh Balance", "c: Copy Address", "enter/esc/q: Close"}
	case m.showDonate:
		title = "Donate"
		shortcuts = []string{"c: Copy Address", "w: Watch for Donations", "esc/q: Close"}
	default:
		title = "Main View"
		shortcuts = []string{
			"a: Add Wallet",
			"e: Rename Wallet",
			"d: Delete Wallet",
			"c: Copy Address",
			"enter: Balance Chart",
			"v: Receive (payment watch)",
			"D: Donate",
			"r: Refresh Balance",
			"R: Refresh All Balances",
			"F: Reconnect Live Updates",
			"P: Toggle Privacy",
			"Tab/j/Down: Next Wallet",
			"S-Tab/k/Up: Prev Wallet",
			"q: Quit",
			"?: Toggle Help",
		}
	}

	header := titleStyle.Render(fmt.Sprintf("Help: %s", title))
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return m.overlay(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}
